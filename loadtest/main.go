package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("msgs", 20, "private messages sent per user")
	timeout  = flag.Duration("timeout", 30*time.Second, "how long receivers wait")
)

type authResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type session struct {
	ID    string
	Name  string
	Token string
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var sent, received atomic.Int64

func main() {
	flag.Parse()
	run := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	slog.Info("Starting load test", "users", *pairs*2, "msgs_per_user", *msgCount, "run", run)

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(run, pairID)
		}(i)
	}
	wg.Wait()

	expected := int64(*pairs * *msgCount * 2)
	slog.Info("Load test complete", "sent", sent.Load(), "received", received.Load(), "expected", expected)
	if received.Load() < expected {
		os.Exit(1)
	}
}

func runPair(run string, pairID int) {
	a, err := authenticate(fmt.Sprintf("lt%s_%d_a", run, pairID))
	if err != nil {
		slog.Error("Auth failed", "pair", pairID, "error", err)
		return
	}
	b, err := authenticate(fmt.Sprintf("lt%s_%d_b", run, pairID))
	if err != nil {
		slog.Error("Auth failed", "pair", pairID, "error", err)
		return
	}

	connA, err := dial(a)
	if err != nil {
		slog.Error("WS connect failed", "user", a.Name, "error", err)
		return
	}
	defer connA.Close()
	connB, err := dial(b)
	if err != nil {
		slog.Error("WS connect failed", "user", b.Name, "error", err)
		return
	}
	defer connB.Close()

	var wg sync.WaitGroup
	wg.Add(4)
	go receive(&wg, connA, b.ID)
	go receive(&wg, connB, a.ID)
	go spam(&wg, connA, a, b.ID)
	go spam(&wg, connB, b, a.ID)
	wg.Wait()
}

// authenticate registers (a conflict is fine) and logs in, keeping the
// token cookie.
func authenticate(username string) (session, error) {
	email := username + "@loadtest.local"
	password := "password123"

	resp, err := postJSON("/api/auth/register", map[string]string{"username": username, "email": email, "password": password})
	if err != nil {
		return session{}, err
	}
	resp.Body.Close()

	resp, err = postJSON("/api/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return session{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session{}, fmt.Errorf("login: status %d", resp.StatusCode)
	}

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return session{}, fmt.Errorf("decode login: %w", err)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			return session{ID: data.User.ID, Name: username, Token: c.Value}, nil
		}
	}
	return session{}, fmt.Errorf("login: no token cookie")
}

func dial(s session) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"
	header := http.Header{}
	header.Set("Cookie", "token="+s.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	return conn, err
}

func spam(wg *sync.WaitGroup, conn *websocket.Conn, from session, to string) {
	defer wg.Done()
	for i := 0; i < *msgCount; i++ {
		data, _ := json.Marshal(map[string]string{
			"receiverId": to,
			"content":    fmt.Sprintf("LoadTest Msg %d from %s", i, from.Name),
		})
		if err := conn.WriteJSON(envelope{Event: "message:private", Data: data}); err != nil {
			slog.Error("Send failed", "user", from.Name, "error", err)
			return
		}
		sent.Add(1)
		time.Sleep(10 * time.Millisecond)
	}
}

// receive counts private messages from peer until all arrived or the
// deadline passes. Echoes of the user's own messages are ignored.
func receive(wg *sync.WaitGroup, conn *websocket.Conn, peer string) {
	defer wg.Done()
	conn.SetReadDeadline(time.Now().Add(*timeout))
	got := 0
	for got < *msgCount {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			slog.Warn("Receive stopped", "got", got, "error", err)
			return
		}
		if env.Event != "message:private" {
			continue
		}
		var msg struct {
			SenderID string `json:"sender_id"`
		}
		if json.Unmarshal(env.Data, &msg) == nil && msg.SenderID == peer {
			got++
			received.Add(1)
		}
	}
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(body))
}
