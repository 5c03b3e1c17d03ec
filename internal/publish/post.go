package publish

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/chaincraft/internal/store"
)

// ErrNothingToShare is returned when a conversation has no design yet.
var ErrNothingToShare = errors.New("there is no game design to share")

// Post is the public board rendering of a design.
type Post struct {
	Title         string `json:"title"`
	Specification string `json:"specification"`
	ImageURL      string `json:"imageUrl,omitempty"`
}

// PostFromState builds a Post from conversation state.
func PostFromState(st store.State) (*Post, error) {
	p := &Post{
		Title:         strings.TrimSpace(st.Str(store.KeyTitle)),
		Specification: strings.TrimSpace(st.Str(store.KeySpecification)),
		ImageURL:      st.Str(store.KeyImageURL),
	}
	if p.Title == "" && p.Specification == "" {
		return nil, ErrNothingToShare
	}
	return p, nil
}

// Lines renders the post as plain text lines.
func (p *Post) Lines() []string {
	lines := []string{"Game Title: " + p.Title, "", "Game Design Specification:"}
	lines = append(lines, strings.Split(p.Specification, "\n")...)
	if p.ImageURL != "" {
		lines = append(lines, "", "Image: "+p.ImageURL)
	}
	return lines
}

// Result describes a completed share.
type Result struct {
	Post   *Post      `json:"post"`
	Pin    *PinResult `json:"pin,omitempty"`
	PinURL string     `json:"pinUrl,omitempty"`
}

// Publisher shares designs. A nil pinata client skips the upload.
type Publisher struct {
	pinata *PinataClient
}

// NewPublisher creates a Publisher.
func NewPublisher(pinata *PinataClient) *Publisher {
	return &Publisher{pinata: pinata}
}

// Share renders the post for st and, when Pinata is configured, pins the
// state document under name.
func (p *Publisher) Share(ctx context.Context, name string, st store.State) (*Result, error) {
	post, err := PostFromState(st)
	if err != nil {
		return nil, err
	}
	res := &Result{Post: post}
	if p.pinata == nil {
		return res, nil
	}

	pin, err := p.pinata.PinJSON(ctx, name, st)
	if err != nil {
		return res, err
	}
	res.Pin = pin
	res.PinURL = p.pinata.URL(pin.IpfsHash)
	return res, nil
}
