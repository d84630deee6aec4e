package handlers

import (
	"github.com/jason-s-yu/dinomemo/internal/hub"
	"github.com/jason-s-yu/dinomemo/internal/registry"
	"github.com/jason-s-yu/dinomemo/internal/service"
	"github.com/sirupsen/logrus"
)

// GameServer bundles what the HTTP and websocket handlers share.
type GameServer struct {
	Service  *service.GameService
	Hub      *hub.Hub
	Registry registry.Registry
	Logger   *logrus.Logger

	// OriginPatterns is passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
}

func NewGameServer(svc *service.GameService, h *hub.Hub, reg registry.Registry, logger *logrus.Logger) *GameServer {
	return &GameServer{
		Service:        svc,
		Hub:            h,
		Registry:       reg,
		Logger:         logger,
		OriginPatterns: []string{"*"},
	}
}
