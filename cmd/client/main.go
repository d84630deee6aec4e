// Command client plays a game from the terminal.
//
//	client -server http://localhost:8080 -name alice -create
//	client -server http://localhost:8080 -name bob -game <id>
//
// Type "flip N" to turn card N, "show" to redraw the board, "quit" to leave.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jason-s-yu/dinomemo/internal/game"
	"github.com/jason-s-yu/dinomemo/internal/models"
	"github.com/jason-s-yu/dinomemo/internal/session"
	"github.com/sirupsen/logrus"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "game server base url")
	gameID := flag.String("game", "", "game id to join")
	name := flag.String("name", "", "player name")
	create := flag.Bool("create", false, "create a new game")
	single := flag.Bool("single", false, "single player game (with -create)")
	pollOnly := flag.Bool("poll", false, "use HTTP polling instead of websocket")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *name == "" || (*gameID == "" && !*create) {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *server, *gameID, *name, *create, *single, *pollOnly); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, logger *logrus.Logger, server, gameID, name string, create, single, pollOnly bool) error {
	api := session.NewAPIClient(server)
	if create {
		gs, err := api.CreateGame(ctx, name, single)
		if err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		gameID = gs.GameID
		fmt.Printf("created game %s\n", gameID)
	}

	poll := session.NewPollTransport(api, session.DefaultPollInterval)
	var coord *session.Coordinator
	if pollOnly {
		coord = session.NewCoordinator(api, poll, logger)
	} else {
		coord = session.NewCoordinator(api, session.NewWSTransport(server), logger)
		coord.Fallback = poll
	}
	defer coord.Close()

	if err := coord.Enter(ctx, gameID, name); err != nil {
		return fmt.Errorf("enter game: %w", err)
	}
	if coord.Seat() == models.SeatNone {
		fmt.Println("game is full, watching as spectator")
	} else {
		fmt.Printf("seated as %s\n", coord.Seat())
	}
	render(coord)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-coord.Done():
			return coord.Err()
		case <-coord.Updates():
			render(coord)
			if coord.Phase() == game.Ended {
				announce(coord.State())
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handle(ctx, coord, strings.Fields(line)); quit {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, coord *session.Coordinator, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "show":
		render(coord)
	case "flip":
		if len(fields) != 2 {
			fmt.Println("usage: flip N")
			return false
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("usage: flip N")
			return false
		}
		res, err := coord.Flip(ctx, idx)
		switch {
		case errors.Is(err, session.ErrSpectator):
			fmt.Println("spectators cannot flip cards")
		case err != nil:
			fmt.Printf("flip rejected: %v\n", err)
		case res.Matched:
			fmt.Println("match!")
		case res.Mismatched:
			fmt.Println("no match")
		}
		render(coord)
	default:
		fmt.Println("commands: flip N, show, quit")
	}
	return false
}

func render(coord *session.Coordinator) {
	gs := coord.State()
	if gs == nil {
		return
	}
	var b strings.Builder
	for i, card := range gs.CardDeck {
		label := "??"
		if i < len(gs.CardFlipped) && gs.CardFlipped[i] {
			label = card.Species
		}
		fmt.Fprintf(&b, "[%2d] %-18s", i, label)
		if (i+1)%4 == 0 {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "%s %d", gs.Players.Player1.DisplayName(), gs.Players.Player1.Points)
	if p2 := gs.Players.Player2; p2 != nil {
		if p2.Seated() {
			fmt.Fprintf(&b, " | %s %d", p2.DisplayName(), p2.Points)
		} else {
			b.WriteString(" | waiting for player2")
		}
	}
	turn := "their turn"
	if coord.MyTurn() {
		turn = "your turn"
	}
	fmt.Fprintf(&b, "\n%s (%s)\n", turn, coord.Phase())
	fmt.Print(b.String())
}

func announce(gs *models.GameState) {
	if winner, ok := game.Winner(gs); ok {
		fmt.Printf("game over, %s wins\n", winner)
		return
	}
	fmt.Println("game over, it's a tie")
}
