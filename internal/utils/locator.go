package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nexconsult/avaluo-api/internal/models"
)

var nonDigits = regexp.MustCompile(`\D`)

// CleanDigits removes all non-numeric characters
func CleanDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// NormalizeLocator strips formatting and pads the region and comuna codes
// to the widths the SII form uses ("6" -> "06", "6101" -> "06101").
func NormalizeLocator(l models.Locator) models.Locator {
	return models.Locator{
		Region:  leftPad(CleanDigits(l.Region), 2),
		Comuna:  leftPad(CleanDigits(l.Comuna), 5),
		Manzana: strings.TrimLeft(CleanDigits(l.Manzana), "0"),
		Predio:  strings.TrimLeft(CleanDigits(l.Predio), "0"),
	}
}

// ValidateLocator checks a normalized locator
func ValidateLocator(l models.Locator) error {
	switch {
	case len(l.Region) != 2:
		return fmt.Errorf("region must have 2 digits")
	case len(l.Comuna) != 5:
		return fmt.Errorf("comuna must have 5 digits")
	case !strings.HasPrefix(l.Comuna, l.Region):
		return fmt.Errorf("comuna %s does not belong to region %s", l.Comuna, l.Region)
	case l.Manzana == "" || len(l.Manzana) > 5:
		return fmt.Errorf("manzana must have between 1 and 5 digits")
	case l.Predio == "" || len(l.Predio) > 5:
		return fmt.Errorf("predio must have between 1 and 5 digits")
	}
	return nil
}

func leftPad(s string, width int) string {
	if s == "" || len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
