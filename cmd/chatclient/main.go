// Command chatclient is a terminal client: it opens the room with a peer,
// prints the conversation as it changes and sends every line typed.
package main

import (
	"bufio"
	"campuschat/backend/internal/chatclient"
	"campuschat/backend/internal/models"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	server := flag.StringP("server", "s", "http://localhost:8080", "chat server base URL")
	token := flag.StringP("token", "t", "", "access token (omit to use the development issuer)")
	userID := flag.StringP("user", "u", "", "your user id (with the development issuer)")
	role := flag.StringP("role", "r", "student", "your role: student, professor or business")
	peerID := flag.String("peer", "", "user id to chat with")
	peerRole := flag.String("peer-role", "student", "role of the peer")
	pageSize := flag.Int("page-size", 30, "messages shown")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*level); err == nil {
		log.SetLevel(lvl)
	}

	me := models.Participant{ID: *userID, Role: models.Role(*role)}
	peer := models.Participant{ID: *peerID, Role: models.Role(*peerRole)}
	if err := peer.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid --peer/--peer-role:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := chatclient.NewHTTPAPI(*server, *token, nil)
	if *token == "" {
		if err := me.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "without --token, --user and --role are required:", err)
			os.Exit(2)
		}
		if _, err := api.IssueDevToken(ctx, me); err != nil {
			log.WithError(err).Fatal("token request failed")
		}
	}

	room, err := api.OpenRoom(ctx, peer)
	if err != nil {
		log.WithError(err).Fatal("could not open room")
	}
	if me.ID == "" {
		// Token supplied: whoever of the pair is not the peer is us.
		me, _ = room.Other(peer)
	}

	var push chatclient.PushConn
	if p, err := chatclient.DialPush(ctx, *server, api.Token(), log); err != nil {
		log.WithError(err).Warn("push unavailable, polling only")
	} else {
		defer p.Close()
		push = p
	}

	view := &printer{peer: peer, seen: make(map[string]bool)}
	var syncer *chatclient.Synchronizer
	syncer = chatclient.NewSynchronizer(api, push, me, chatclient.Options{
		PageSize: *pageSize,
		Logger:   log,
		OnChange: func() { view.render(syncer) },
	})
	if err := syncer.OpenRoom(ctx, room.ID); err != nil {
		log.WithError(err).Fatal("could not load room")
	}
	go syncer.Run(ctx)

	fmt.Printf("Chatting with %s (%s). Type a message and press enter, /quit to leave.\n", peer.ID, peer.Role)
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
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if _, err := syncer.Send(sendCtx, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			cancel()
		}
	}
}

// printer writes each message once and shows the peer's typing state.
type printer struct {
	mu     sync.Mutex
	peer   models.Participant
	seen   map[string]bool
	typing bool
}

func (p *printer) render(s *chatclient.Synchronizer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range s.Messages() {
		if p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		who := "you"
		if m.SenderID == p.peer.ID {
			who = p.peer.ID
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
	}

	if typing := s.PeerTyping(p.peer.ID); typing != p.typing {
		p.typing = typing
		if typing {
			fmt.Printf("%s is typing...\n", p.peer.ID)
		}
	}
}
