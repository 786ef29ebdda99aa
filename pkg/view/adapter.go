package view

// Variant is a layout of the chat surface.
type Variant string

const (
	VariantDesktop Variant = "desktop"
	VariantMobile  Variant = "mobile"
)

// Adapter knows which regions of one layout make up the conversation view.
type Adapter interface {
	Variant() Variant
	// InputRegion and MessageRegion are the layout specific regions that
	// follow the chat container.
	InputRegion() Region
	MessageRegion() Region
}

type desktopAdapter struct{}

func (desktopAdapter) Variant() Variant      { return VariantDesktop }
func (desktopAdapter) InputRegion() Region   { return RegionInputContainer }
func (desktopAdapter) MessageRegion() Region { return RegionMessageContainer }

type mobileAdapter struct{}

func (mobileAdapter) Variant() Variant      { return VariantMobile }
func (mobileAdapter) InputRegion() Region   { return RegionChatInput }
func (mobileAdapter) MessageRegion() Region { return RegionMessages }

func DesktopAdapter() Adapter { return desktopAdapter{} }
func MobileAdapter() Adapter  { return mobileAdapter{} }

// SelectAdapter probes the surface for the desktop marker, then the mobile
// one. It returns nil when the surface is neither, or when the chat container
// is missing.
func SelectAdapter(s *Surface) Adapter {
	if s == nil || !s.Has(RegionChatContainer) {
		return nil
	}
	for _, a := range []Adapter{desktopAdapter{}, mobileAdapter{}} {
		if s.Has(a.InputRegion()) && s.Has(a.MessageRegion()) {
			return a
		}
	}
	return nil
}
