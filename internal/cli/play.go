package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gameroom-service/internal/config"
	"gameroom-service/internal/domain"
	"gameroom-service/internal/logging"
	"gameroom-service/internal/transport/wsclient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type playOptions struct {
	url      string
	roomID   string
	playerID string
	name     string
	team     string
}

// NewPlayCmd joins a room from the terminal and prints its events.
func NewPlayCmd(configPath *string) *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room from the terminal",
		Long: `Join a room and print every event. Lines typed are sent as chat, except:
  /start /pause /resume      control the game
  /answer <optionId>         answer the open question
  /powerup <type>            use a power-up
  /emoji <emoji>             send a reaction
  /status <away|connected>   change presence
  /leave                     leave and exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), *configPath, opts, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "server websocket url (defaults to client.url)")
	cmd.Flags().StringVar(&opts.roomID, "room", "", "room id to join")
	cmd.Flags().StringVar(&opts.playerID, "player", "", "player id (random when empty)")
	cmd.Flags().StringVar(&opts.name, "name", "Player", "display name")
	cmd.Flags().StringVar(&opts.team, "team", "", "team id for team rooms")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runPlay(ctx context.Context, configPath string, opts playOptions, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(firstSet(cfg.Logging.Level, "warn"), "console")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if opts.url == "" {
		opts.url = cfg.Client.URL
	}
	if opts.playerID == "" {
		opts.playerID = uuid.NewString()
	}

	client := wsclient.New(wsclient.Config{
		URL:          opts.url,
		FallbackURLs: cfg.Client.Fallbacks,
		BaseDelay:    config.TTLDuration(cfg.Client.BaseDelay, time.Second),
		Logger:       log.Named("client"),
	})
	defer client.Close()

	p := &printer{out: out}
	q := &openQuestion{}
	for _, t := range domain.MessageTypes {
		t := t
		client.On(string(t), func(payload any) {
			msg := payload.(domain.InboundMessage)
			if t == domain.MsgQuestionStart {
				q.open(msg)
			}
			p.event(string(t), msg.PlayerID, msg.Data)
		})
	}
	client.On(wsclient.EventDisconnect, func(payload any) {
		p.line("disconnected: %s", payload.(wsclient.DisconnectInfo).Reason)
	})
	client.On(wsclient.EventReconnecting, func(payload any) {
		info := payload.(wsclient.ReconnectInfo)
		p.line("reconnecting (attempt %d in %s)", info.Attempt, info.Delay)
	})
	gaveUp := make(chan struct{})
	client.Once(wsclient.EventMaxReconnectAttempts, func(any) {
		p.line("could not reconnect, giving up")
		close(gaveUp)
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", opts.url, err)
	}
	room, err := client.JoinRoom(ctx, opts.roomID, opts.playerID, domain.JoinRoomData{
		UserID: opts.playerID,
		Name:   opts.name,
		TeamID: opts.team,
	})
	if err != nil {
		return err
	}
	p.line("joined %q (%s, %d/%d players)", room.Config.Name, room.Status, len(room.Players), room.Config.MaxPlayers)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gaveUp:
			return fmt.Errorf("connection lost")
		case line, ok := <-lines:
			if !ok {
				return client.LeaveRoom(context.Background())
			}
			leave, err := runCommand(ctx, client, q, strings.TrimSpace(line))
			if err != nil {
				log.Warn("command failed", zap.String("input", line), zap.Error(err))
				p.line("error: %v", err)
			}
			if leave {
				return nil
			}
		}
	}
}

func runCommand(ctx context.Context, c *wsclient.Client, q *openQuestion, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.SendChatMessage(line)
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "start":
		return false, c.StartGame()
	case "pause":
		return false, c.PauseGame()
	case "resume":
		return false, c.ResumeGame()
	case "answer":
		id, spent, ok := q.current()
		if !ok {
			return false, fmt.Errorf("no open question")
		}
		return false, c.SubmitAnswer(id, arg, spent)
	case "powerup":
		return false, c.UsePowerUp(domain.PowerUpType(arg))
	case "emoji":
		return false, c.SendEmojiReaction(arg)
	case "status":
		return false, c.UpdatePlayerStatus(domain.PlayerStatus(arg))
	case "leave":
		return true, c.LeaveRoom(ctx)
	default:
		return false, fmt.Errorf("unknown command /%s", cmd)
	}
}

// openQuestion remembers the last question_start to time answers locally.
type openQuestion struct {
	mu       sync.Mutex
	id       string
	received time.Time
}

func (q *openQuestion) open(msg domain.InboundMessage) {
	var data struct {
		QuestionID string `json:"questionId"`
	}
	if err := msg.DecodeData(&data); err != nil {
		return
	}
	q.mu.Lock()
	q.id, q.received = data.QuestionID, time.Now()
	q.mu.Unlock()
}

func (q *openQuestion) current() (string, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.id, time.Since(q.received), q.id != ""
}

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) event(name, playerID string, data json.RawMessage) {
	from := ""
	if playerID != "" {
		from = " <" + playerID + ">"
	}
	if len(data) == 0 {
		p.line("[%s]%s", name, from)
		return
	}
	p.line("[%s]%s %s", name, from, data)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
