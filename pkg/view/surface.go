// Package view decides which part of the chat surface is visible.
package view

import (
	"sort"
	"sync"
)

// Region names a part of the chat surface.
type Region string

const (
	RegionWelcome       Region = "welcome"
	RegionChatContainer Region = "chat-container"

	// Desktop layout: the input bar and the message list live in the chat container.
	RegionInputContainer   Region = "input-container"
	RegionMessageContainer Region = "message-container"

	// Mobile layout.
	RegionChatInput Region = "chat-input"
	RegionMessages  Region = "messages"
)

// ClassHasMessages is set on the surface while the conversation is shown.
const ClassHasMessages = "has-messages"

// Surface is the set of regions a layout renders, with their visibility.
type Surface struct {
	mu      sync.RWMutex
	regions map[Region]bool
	classes map[string]bool
}

// NewSurface creates a surface with the given regions, all hidden.
func NewSurface(regions ...Region) *Surface {
	s := &Surface{
		regions: map[Region]bool{},
		classes: map[string]bool{},
	}
	for _, r := range regions {
		s.regions[r] = false
	}
	return s
}

// NewDesktopSurface and NewMobileSurface build the two layouts in their
// startup state: welcome visible, chat container hidden.
func NewDesktopSurface() *Surface {
	s := NewSurface(RegionWelcome, RegionChatContainer, RegionInputContainer, RegionMessageContainer)
	s.regions[RegionWelcome] = true
	return s
}

func NewMobileSurface() *Surface {
	s := NewSurface(RegionWelcome, RegionChatContainer, RegionChatInput, RegionMessages)
	s.regions[RegionWelcome] = true
	return s
}

func NewSurfaceForVariant(v Variant) *Surface {
	if v == VariantMobile {
		return NewMobileSurface()
	}
	return NewDesktopSurface()
}

func (s *Surface) Has(r Region) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.regions[r]
	return ok
}

// Visible reports false for regions the surface does not have.
func (s *Surface) Visible(r Region) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[r]
}

func (s *Surface) HasClass(c string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classes[c]
}

// Regions lists the regions of the surface, sorted.
func (s *Surface) Regions() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]Region, 0, len(s.regions))
	for r := range s.regions {
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Update applies visibility changes and class changes atomically. Regions
// the surface does not have are ignored.
func (s *Surface) Update(visible map[Region]bool, classes map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r, v := range visible {
		if _, ok := s.regions[r]; ok {
			s.regions[r] = v
		}
	}
	for c, on := range classes {
		if on {
			s.classes[c] = true
		} else {
			delete(s.classes, c)
		}
	}
}
