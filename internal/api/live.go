package api

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/session"
	"github.com/dgallion1/redliner/internal/surface"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 << 20
	sendBuffer     = 64
)

// The API key is checked before the upgrade, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// liveClient is one editor connected to a document session. The session
// renders into a remote surface whose messages go out through send.
type liveClient struct {
	conn *websocket.Conn
	send chan surface.Message
	done chan struct{}
	sess *session.Session
	log  *slog.Logger

	dropOnce sync.Once
}

// handleLive upgrades to a websocket and attaches the connection to the
// document session as its live surface.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &liveClient{
		conn: conn,
		send: make(chan surface.Message, sendBuffer),
		done: make(chan struct{}),
		sess: sess,
		log:  s.log.With("doc_id", sess.ID(), "remote", r.RemoteAddr),
	}
	rs := surface.NewRemoteSurface(c.enqueue)
	y := sess.Attach(rs, surface.Options{
		TypingIdle:       s.cfg.TypingIdle,
		CompositionDelay: s.cfg.CompositionDelay,
		Logger:           c.log,
	})
	c.log.Info("live surface attached")

	go c.writePump()
	c.readPump(rs, y)

	sess.Detach(y)
	close(c.done)
	c.log.Info("live surface detached")
}

// enqueue never blocks: it runs under the synchronizer's render lock. A
// client that cannot keep up is disconnected and gets a fresh render when it
// reconnects.
func (c *liveClient) enqueue(m surface.Message) {
	select {
	case <-c.done:
	case c.send <- m:
	default:
		c.dropOnce.Do(func() {
			c.log.Warn("live client too slow, closing connection", "type", m.Type, "buffered", len(c.send))
			c.conn.Close()
		})
	}
}

func (c *liveClient) readPump(rs *surface.RemoteSurface, y *surface.Synchronizer) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg surface.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket unexpected close", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.handle(rs, y, msg); err != nil {
			c.log.Debug("live message failed", "type", msg.Type, "error", err)
			c.enqueue(surface.Message{Type: surface.MsgError, ID: msg.ID, Error: err.Error()})
		}
	}
}

func (c *liveClient) handle(rs *surface.RemoteSurface, y *surface.Synchronizer, msg surface.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch msg.Type {
	case surface.MsgInput, surface.MsgCompositionEnd:
		var e remoteEdit
		if e, err = c.mirror(rs, msg); err != nil {
			return err
		}
		if msg.Type == surface.MsgInput {
			y.Input(e.text)
		} else {
			y.CompositionEnd(e.text)
		}
		c.reconcile(ctx, e)
	case surface.MsgCompositionStart:
		y.CompositionStart()
	case surface.MsgAccept:
		_, err = c.sess.Accept(ctx, msg.ID)
	case surface.MsgReject:
		_, err = c.sess.Reject(ctx, msg.ID)
	case surface.MsgSelect:
		_, err = c.sess.Select(ctx, msg.ID)
	case surface.MsgNext:
		_, err = c.sess.Navigate(ctx, redline.Next)
	case surface.MsgPrev:
		_, err = c.sess.Navigate(ctx, redline.Prev)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	return err
}

// remoteEdit is one edit reported by the remote editor.
type remoteEdit struct {
	// text is the editor's content in the original view.
	text string
	// revised holds new suggested text typed into annotations, by ID.
	revised map[string]string
	// lost is set when the markup changed in a way neither the content nor
	// any suggestion can hold.
	lost bool
}

// mirror records what the remote editor now shows and works out what changed
// since it last reported or was rendered. A message carrying text without
// markup is taken as content.
func (c *liveClient) mirror(rs *surface.RemoteSurface, msg surface.Message) (remoteEdit, error) {
	if msg.Markup == "" && msg.Text != "" {
		return remoteEdit{text: msg.Text}, nil
	}
	prev := rs.Markup()
	if err := rs.Mirror(msg.Markup, msg.Offset); err != nil {
		return remoteEdit{}, fmt.Errorf("mirror markup: %w", err)
	}
	return diffRemote(prev, rs.Markup())
}

func diffRemote(prev, next string) (remoteEdit, error) {
	before, err := markup.PlainText(prev, markup.ViewOriginal)
	if err != nil {
		return remoteEdit{}, err
	}
	after, err := markup.PlainText(next, markup.ViewOriginal)
	if err != nil {
		return remoteEdit{}, err
	}
	was, err := markup.Insertions(prev)
	if err != nil {
		return remoteEdit{}, err
	}
	now, err := markup.Insertions(next)
	if err != nil {
		return remoteEdit{}, err
	}

	e := remoteEdit{text: after, revised: make(map[string]string)}
	for id, text := range now {
		if old, ok := was[id]; ok && old != text {
			e.revised[id] = text
		}
	}
	e.lost = before == after && len(e.revised) == 0 && prev != next
	return e, nil
}

// reconcile writes text typed into annotations to their suggestions. When an
// edit cannot be kept the editor is re-rendered from the document.
func (c *liveClient) reconcile(ctx context.Context, e remoteEdit) {
	resync := e.lost
	for _, id := range slices.Sorted(maps.Keys(e.revised)) {
		if _, err := c.sess.Modify(ctx, id, e.revised[id]); err != nil {
			c.log.Info("suggestion edit not kept", "suggestion_id", id, "error", err)
			resync = true
		}
	}
	if resync {
		c.sess.Resync(ctx)
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
