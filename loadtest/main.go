package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// The load test drives N buyers against one listing. Each buyer opens a
// conversation over REST, then both the buyer and the seller hold a live view
// while the buyer sends the rest of its messages over the socket.

var (
	baseURL    = flag.String("base", "http://localhost:8080", "server base url")
	listingID  = flag.String("listing", "", "active listing to message about (required)")
	sellerUser = flag.String("seller", "", "username of the listing owner (required)")
	sellerPass = flag.String("seller-pass", "password123", "password of the listing owner")
	buyerCount = flag.Int("buyers", 50, "number of concurrent buyers")
	msgCount   = flag.Int("msgs", 20, "messages per buyer")
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

type SendResponse struct {
	ConversationID string `json:"conversation_id"`
}

type frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	ListingID      string `json:"listing_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

var (
	sent     atomic.Int64
	received atomic.Int64
	failures atomic.Int64
)

func main() {
	flag.Parse()
	if *listingID == "" || *sellerUser == "" {
		log.Fatal("-listing and -seller are required")
	}

	sellerToken := login(*sellerUser, *sellerPass)
	if sellerToken == "" {
		log.Fatalf("seller %s can't log in", *sellerUser)
	}

	log.Printf("starting load test: %d buyers, %d messages each", *buyerCount, *msgCount)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *buyerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runBuyer(id, sellerToken)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete in %s: sent=%d live_received=%d failures=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), failures.Load())
}

func runBuyer(id int, sellerToken string) {
	username := fmt.Sprintf("lt_buyer_%d", id)
	token := authenticate(username, "password123")
	if token == "" {
		failures.Add(1)
		return
	}

	convID := firstMessage(token, fmt.Sprintf("Is this available? (%s)", username))
	if convID == "" {
		failures.Add(1)
		return
	}

	// The seller watches the conversation while the buyer keeps writing.
	watching := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		watch(sellerToken, convID, *msgCount-1, watching)
	}()
	<-watching

	chat(token, convID, username)
	<-done
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password string) string {
	if resp, err := postJSON("/register", "", map[string]string{"username": username, "password": password}); err == nil {
		resp.Body.Close()
	}
	return login(username, password)
}

func login(username, password string) string {
	resp, err := postJSON("/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("login failed [%s]: %s", username, resp.Status)
		return ""
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return ""
	}
	return data.Token
}

func firstMessage(token, text string) string {
	resp, err := postJSON("/api/messages", token, map[string]string{"listing_id": *listingID, "message": text})
	if err != nil {
		log.Printf("first message failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Printf("first message failed: %s", resp.Status)
		return ""
	}
	sent.Add(1)

	var data SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return ""
	}
	return data.ConversationID
}

func dial(token string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// watch opens a live view and counts message frames until want arrive or the
// view goes quiet.
func watch(token, convID string, want int, ready chan<- struct{}) {
	conn, err := dial(token)
	if err != nil {
		log.Printf("seller ws connect failed: %v", err)
		close(ready)
		failures.Add(1)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame{Type: "open", ConversationID: convID}); err != nil {
		close(ready)
		failures.Add(1)
		return
	}

	got := 0
	readyClosed := false
	for got < want {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Printf("seller view on %s stopped after %d/%d: %v", convID, got, want, err)
			break
		}
		switch f.Type {
		case "history":
			close(ready)
			readyClosed = true
		case "message":
			got++
			received.Add(1)
		case "error":
			failures.Add(1)
		}
	}
	if !readyClosed {
		close(ready)
	}
}

func chat(token, convID, username string) {
	conn, err := dial(token)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", username, err)
		failures.Add(1)
		return
	}
	defer conn.Close()

	for i := 1; i < *msgCount; i++ {
		msg := frame{
			Type:           "send",
			ConversationID: convID,
			Content:        fmt.Sprintf("LoadTest Msg %d from %s", i, username),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("send failed [%s]: %v", username, err)
			failures.Add(1)
			return
		}
		// Wait for the ack so the server isn't flooded faster than it commits.
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var ack frame
		if err := conn.ReadJSON(&ack); err != nil || ack.Type != "sent" {
			failures.Add(1)
			continue
		}
		sent.Add(1)
	}
	log.Printf("%s finished sending %d msgs", username, *msgCount)
}

func postJSON(endpoint, token string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
