package surface

import "golang.org/x/net/html"

// Message is exchanged with a remote editor.
type Message struct {
	Type   string `json:"type"`
	Markup string `json:"markup,omitempty"`
	Text   string `json:"text,omitempty"`
	Offset *int   `json:"offset,omitempty"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Message types.
const (
	MsgRender           = "render"
	MsgCaret            = "caret"
	MsgInput            = "input"
	MsgCompositionStart = "composition_start"
	MsgCompositionEnd   = "composition_end"
	MsgAccept           = "accept"
	MsgReject           = "reject"
	MsgSelect           = "select"
	MsgNext             = "next"
	MsgPrev             = "prev"
	MsgError            = "error"
)

// RemoteSurface mirrors a remote editor locally. Renders and caret moves are
// forwarded through send; the remote reports its own edits with Mirror.
type RemoteSurface struct {
	*HTMLSurface
	send func(Message)
}

func NewRemoteSurface(send func(Message)) *RemoteSurface {
	local, _ := NewHTMLSurface("")
	return &RemoteSurface{HTMLSurface: local, send: send}
}

func (r *RemoteSurface) SetMarkup(m string) error {
	if err := r.HTMLSurface.SetMarkup(m); err != nil {
		return err
	}
	r.send(Message{Type: MsgRender, Markup: m})
	return nil
}

func (r *RemoteSurface) Select(n *html.Node, off int) error {
	if err := r.HTMLSurface.Select(n, off); err != nil {
		return err
	}
	caret := GetCaretOffset(r.HTMLSurface)
	r.send(Message{Type: MsgCaret, Offset: &caret})
	return nil
}

// AfterRender runs fn immediately: the remote applies messages in order, so
// anything sent now lands after the render already queued.
func (r *RemoteSurface) AfterRender(fn func()) {
	fn()
}

// Mirror records markup and caret reported by the remote without echoing
// them back.
func (r *RemoteSurface) Mirror(m string, caret *int) error {
	if err := r.HTMLSurface.SetMarkup(m); err != nil {
		return err
	}
	if caret != nil {
		SetCaretOffset(r.HTMLSurface, *caret)
	}
	return nil
}
