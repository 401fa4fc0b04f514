package fetcher

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/models"
)

// FontStore looks up fonts uploaded to a project.
type FontStore interface {
	GetCustomFont(ctx context.Context, projectID uuid.UUID, name string) (*models.CustomFont, error)
}

// knownFonts maps lowercase font names to candidate files across the Docker
// image (Debian), macOS dev machines and Windows.
var knownFonts = map[string][]string{
	"noto sans": {
		"/usr/share/fonts/truetype/noto/NotoSans-Bold.ttf",
		"/usr/share/fonts/truetype/noto/NotoSans-Regular.ttf",
		"/usr/share/fonts/noto/NotoSans-Bold.ttf",
	},
	"roboto": {
		"/usr/share/fonts/truetype/roboto/unhinted/RobotoTTF/Roboto-Bold.ttf",
		"/usr/share/fonts/truetype/roboto/Roboto-Bold.ttf",
		"/Library/Fonts/Roboto-Bold.ttf",
	},
	"open sans": {
		"/usr/share/fonts/truetype/open-sans/OpenSans-Bold.ttf",
		"/usr/share/fonts/opentype/open-sans/OpenSans-Bold.otf",
		"/Library/Fonts/OpenSans-Bold.ttf",
	},
	"lato": {
		"/usr/share/fonts/truetype/lato/Lato-Bold.ttf",
		"/Library/Fonts/Lato-Bold.ttf",
	},
	"montserrat": {
		"/usr/share/fonts/truetype/montserrat/Montserrat-Bold.ttf",
		"/usr/share/fonts/opentype/montserrat/Montserrat-Bold.otf",
		"/Library/Fonts/Montserrat-Bold.ttf",
	},
	"dejavu sans": {
		"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans-Bold.ttf",
	},
	"liberation sans": {
		"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
		"/usr/share/fonts/liberation/LiberationSans-Bold.ttf",
	},
	"arial": {
		"/usr/share/fonts/truetype/msttcorefonts/Arial_Bold.ttf",
		"/Library/Fonts/Arial Bold.ttf",
		"/System/Library/Fonts/Supplemental/Arial Bold.ttf",
		`C:\Windows\Fonts\arialbd.ttf`,
	},
	"impact": {
		"/usr/share/fonts/truetype/msttcorefonts/Impact.ttf",
		"/System/Library/Fonts/Supplemental/Impact.ttf",
		`C:\Windows\Fonts\impact.ttf`,
	},
	"georgia": {
		"/usr/share/fonts/truetype/msttcorefonts/Georgia_Bold.ttf",
		"/System/Library/Fonts/Supplemental/Georgia Bold.ttf",
		`C:\Windows\Fonts\georgiab.ttf`,
	},
}

var fallbackFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/noto/NotoSans-Bold.ttf",
	"/System/Library/Fonts/Helvetica.ttc",
	`C:\Windows\Fonts\arial.ttf`,
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// ResolveFont returns a font file for name. Resolution never fails: when
// nothing matches it falls back to a system font, or "" to let the encoder
// use its default.
func (f *Fetcher) ResolveFont(ctx context.Context, projectID uuid.UUID, name, scratchDir string) string {
	key := strings.ToLower(strings.TrimSpace(name))

	if key != "" {
		if candidates, ok := knownFonts[key]; ok {
			for _, p := range candidates {
				if f.exists(p) {
					return p
				}
			}
			f.logger.Warn("known font not installed, using fallback", "font", name)
		} else if p := f.customFont(ctx, projectID, name, key, scratchDir); p != "" {
			return p
		}
	}

	for _, p := range fallbackFonts {
		if f.exists(p) {
			return p
		}
	}

	f.logger.Warn("no fallback font available, using encoder default", "font", name)
	return ""
}

func (f *Fetcher) customFont(ctx context.Context, projectID uuid.UUID, name, key, scratchDir string) string {
	if f.fonts == nil {
		return ""
	}

	font, err := f.fonts.GetCustomFont(ctx, projectID, name)
	if err != nil {
		f.logger.Warn("custom font not found, using fallback", "font", name, "error", err)
		return ""
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(font.URL, "?", 2)[0]))
	if ext != ".ttf" && ext != ".otf" && ext != ".ttc" {
		ext = ".ttf"
	}
	dest := filepath.Join(scratchDir, "fonts", strings.Trim(unsafeName.ReplaceAllString(key, "-"), "-")+ext)
	if f.exists(dest) {
		return dest
	}

	if err := f.Fetch(ctx, font.URL, dest); err != nil {
		f.logger.Warn("failed to download custom font, using fallback", "font", name, "error", err)
		return ""
	}
	return dest
}
