package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"kvgate/server"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// WatchClaims identifies a watcher by its subject.
type WatchClaims struct {
	jwt.RegisteredClaims
}

// authenticateWatch checks an HS256 bearer token against secret. With no
// secret configured every watcher is accepted.
func authenticateWatch(r *http.Request, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "anonymous", nil
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errors.New("missing bearer token")
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	claims := &WatchClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("unauthenticated")
	}
	return claims.Subject, nil
}

// watchHandler streams store changes to a websocket. ?key=... narrows the
// feed to one key.
func watchHandler(hub *server.WSHub, secret []byte, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	log := logger.With("component", "watch")

	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := authenticateWatch(r, secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		channel := r.URL.Query().Get("key")
		if channel == "" {
			channel = server.AllKeys
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		client := hub.Subscribe(channel)
		defer hub.Unsubscribe(channel, client)

		log.Debug("watcher connected", "subject", subject, "channel", channel)

		// writer goroutine
		go func() {
			for msg := range client.Send {
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("write failed", "subject", subject, "error", err)
					return
				}
			}
		}()

		// Watchers do not send anything; reading only notices the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseAbnormalClosure,
				) {
					log.Debug("read failed", "subject", subject, "error", err)
				}
				return
			}
		}
	}
}
