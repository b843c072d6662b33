package broker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSession es una sesión de streaming sobre WebSocket contra el pool.
//
// El pool empuja StreamEvents JSON; la sesión los decodifica y los
// entrega por el canal. Cualquier error de lectura cierra el canal y
// termina la sesión: la política de reconexión vive en el subscriber,
// no acá.
type wsSession struct {
	conn   *websocket.Conn
	events chan StreamEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// readLimit acota el tamaño de un frame del pool (1 MiB); un snapshot
// de posiciones no debería acercarse a esto.
const readLimit = 1 << 20

// Subscribe implementa Client. Abre la sesión WebSocket
// /accounts/{id}/stream y espera el evento CONNECTED inicial antes de
// retornar (sincronización completa del lado del pool).
func (c *HTTPClient) Subscribe(ctx context.Context, accountID, region string) (StreamSession, error) {
	wsURL, err := c.streamURL(accountID, region)
	if err != nil {
		return nil, err
	}

	header := map[string][]string{}
	if c.token != "" {
		header["Authorization"] = []string{"Bearer " + c.token}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classifyTransportError(err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	conn.SetReadLimit(readLimit)

	session := &wsSession{
		conn:   conn,
		events: make(chan StreamEvent, 256),
		closed: make(chan struct{}),
	}

	go session.readLoop()

	return session, nil
}

func (c *HTTPClient) streamURL(accountID, region string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path += fmt.Sprintf("/accounts/%s/stream", url.PathEscape(accountID))
	if region != "" {
		query := parsed.Query()
		query.Set("region", region)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// Events implementa StreamSession.
func (s *wsSession) Events() <-chan StreamEvent {
	return s.events
}

// Close implementa StreamSession. Idempotente.
func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) readLoop() {
	defer close(s.events)

	for {
		var event StreamEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			// Sesión muerta; el subscriber reconecta
			select {
			case <-s.closed:
			default:
				_ = s.conn.Close()
			}
			return
		}
		if event.At.IsZero() {
			event.At = time.Now()
		}

		select {
		case s.events <- event:
		case <-s.closed:
			return
		}
	}
}
