package view

// DefaultMobileBreakpoint is the terminal width, in columns, at or below which
// the mobile layout is used.
const DefaultMobileBreakpoint = 100

// VariantForWidth maps a terminal width to a layout.
func VariantForWidth(width int, breakpoint int) Variant {
	if breakpoint <= 0 {
		breakpoint = DefaultMobileBreakpoint
	}
	if width <= breakpoint {
		return VariantMobile
	}
	return VariantDesktop
}

// Route returns the layout to use for width and whether it differs from
// current.
func Route(current Variant, width int, breakpoint int) (Variant, bool) {
	next := VariantForWidth(width, breakpoint)
	return next, next != current
}

func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case VariantDesktop:
		return VariantDesktop, true
	case VariantMobile:
		return VariantMobile, true
	}
	return "", false
}
