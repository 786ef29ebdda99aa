package view

import (
	"github.com/rs/zerolog/log"
)

// Counter reports how many bubbles the conversation holds.
type Counter interface {
	Len() int
}

// Controller keeps the welcome panel and the conversation panel complementary.
type Controller struct {
	surface  *Surface
	adapter  Adapter
	messages Counter
}

// NewController selects the adapter of the surface once. A controller over an
// unknown surface is valid and does nothing.
func NewController(surface *Surface, messages Counter) *Controller {
	a := SelectAdapter(surface)
	if a == nil {
		log.Debug().Str("component", "view").Msg("no known layout on surface, view refresh disabled")
	}
	return &Controller{surface: surface, adapter: a, messages: messages}
}

func (c *Controller) Surface() *Surface {
	return c.surface
}

// Variant returns the detected layout, or "" when none was detected.
func (c *Controller) Variant() Variant {
	if c.adapter == nil {
		return ""
	}
	return c.adapter.Variant()
}

// Refresh shows the welcome panel when the conversation is empty and the
// conversation panel otherwise.
func (c *Controller) Refresh() {
	if c.adapter == nil {
		return
	}
	c.apply(c.messages.Len() > 0)
}

// ShowConversation reveals the conversation panel regardless of the message
// count, before the first bubble is appended.
func (c *Controller) ShowConversation() {
	if c.adapter == nil {
		return
	}
	c.surface.Update(map[Region]bool{
		RegionWelcome:       false,
		RegionChatContainer: true,
	}, nil)
}

func (c *Controller) apply(hasMessages bool) {
	c.surface.Update(map[Region]bool{
		RegionWelcome:             !hasMessages,
		RegionChatContainer:       hasMessages,
		c.adapter.InputRegion():   hasMessages,
		c.adapter.MessageRegion(): hasMessages,
	}, map[string]bool{
		ClassHasMessages: hasMessages,
	})
}
