// Package catalog provides the dinosaur species decks are drawn from.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// ErrCatalogUnavailable is returned when the species list cannot be read.
var ErrCatalogUnavailable = errors.New("dinosaur catalog unavailable")

// Catalog lists the species available for deck generation.
type Catalog interface {
	List(ctx context.Context) ([]models.Dinosaur, error)
}

// DefaultImageBase is where the card images are hosted.
const DefaultImageBase = "https://dino-memory-card-images.s3.amazonaws.com/"

var species = []string{
	"Tyrannosaurus Rex",
	"Albertosaurus",
	"Allosaurus",
	"Ankylosaurus",
	"Apatosaurus",
	"Archaeopteryx",
	"Argentinosaurus",
	"Baryonyx",
	"Brachiosaurus",
	"Carnotaurus",
	"Coelophysis",
	"Compsognathus",
	"Dilophosaurus",
	"Diplodocus",
	"Giganotosaurus",
	"Iguanodon",
	"Kentrosaurus",
	"Megalosaurus",
	"Oviraptor",
	"Pachycephalosaurus",
	"Parasaurolophus",
	"Plateosaurus",
	"Protoceratops",
	"Pteranodon",
	"Sinosauropteryx",
	"Spinosaurus",
	"Stegosaurus",
	"Therizinosaurus",
	"Triceratops",
	"Velociraptor",
}

// Static is the built-in catalog.
type Static struct {
	ImageBase string
}

// NewStatic returns the built-in catalog with images under imageBase.
// An empty imageBase uses DefaultImageBase.
func NewStatic(imageBase string) *Static {
	if imageBase == "" {
		imageBase = DefaultImageBase
	}
	return &Static{ImageBase: imageBase}
}

// List returns every built-in species.
func (s *Static) List(_ context.Context) ([]models.Dinosaur, error) {
	return Dinosaurs(s.ImageBase), nil
}

// Dinosaurs returns the built-in species with image refs under base.
func Dinosaurs(base string) []models.Dinosaur {
	out := make([]models.Dinosaur, len(species))
	for i, name := range species {
		out[i] = models.Dinosaur{
			Species:  name,
			ImageRef: base + strings.ReplaceAll(name, " ", "-") + ".webp",
		}
	}
	return out
}
