package ocr

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
)

const (
	ModeSkip          = "skip"
	ModeSkipNoArchive = "skip_noarchive"
	ModeRedo          = "redo"
	ModeForce         = "force"
)

var languagePattern = regexp.MustCompile(`^[a-z]{3}(_[a-z]+)*$`)

// languages joins the hints into ocrmypdf's "eng+deu" form, dropping
// anything that is not a tesseract language code. The configured language is
// the fallback.
func languages(hints []string, fallback string) string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hints {
		for _, l := range strings.Split(h, "+") {
			l = strings.ToLower(strings.TrimSpace(l))
			if languagePattern.MatchString(l) && !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return strings.Join(out, "+")
}

type invocation struct {
	input, output, sidecar string
	langs                  string
	fromImage              bool
	degraded               bool
}

// buildArgs renders the ocrmypdf command line. The degraded variant used for
// the retry drops preprocessing, lowers the image DPI and disables
// optimisation.
func buildArgs(cfg config.OCRConfig, inv invocation) []string {
	outputType := cfg.OutputType
	if outputType == "" {
		outputType = "pdfa"
	}
	args := []string{"--output-type", outputType, "-l", inv.langs}

	switch cfg.Mode {
	case ModeRedo:
		args = append(args, "--redo-ocr")
	case ModeForce:
		args = append(args, "--force-ocr")
	default:
		args = append(args, "--skip-text")
	}

	if inv.fromImage {
		dpi := cfg.ImageDPI
		if inv.degraded && cfg.FallbackDPI > 0 {
			dpi = cfg.FallbackDPI
		}
		if dpi > 0 {
			args = append(args, "--image-dpi", strconv.Itoa(dpi))
		}
	}

	if inv.degraded {
		args = append(args, "--optimize", "0")
	} else {
		switch cfg.Clean {
		case "clean":
			args = append(args, "--clean")
		case "clean-final":
			// --clean-final replaces page images, which --redo-ocr refuses.
			if cfg.Mode == ModeRedo {
				args = append(args, "--clean")
			} else {
				args = append(args, "--clean-final")
			}
		}
		// --redo-ocr is incompatible with deskew.
		if cfg.Deskew && cfg.Mode != ModeRedo {
			args = append(args, "--deskew")
		}
		if cfg.RotatePages {
			args = append(args, "--rotate-pages", "--rotate-pages-threshold", strconv.FormatFloat(cfg.RotateThreshold, 'f', -1, 64))
		}
		args = append(args, "--optimize", strconv.Itoa(cfg.Optimize))
	}

	if cfg.Pages > 0 {
		args = append(args, "--pages", fmt.Sprintf("1-%d", cfg.Pages))
	}
	if cfg.MaxImagePixels > 0 {
		args = append(args, "--max-image-mpixels", strconv.FormatFloat(cfg.MaxImagePixels/1e6, 'f', -1, 64))
	}

	keys := make([]string, 0, len(cfg.UserArgs))
	for k := range cfg.UserArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flag := "--" + strings.TrimLeft(k, "-")
		if v := cfg.UserArgs[k]; v != "" {
			args = append(args, flag, v)
		} else {
			args = append(args, flag)
		}
	}

	return append(args, "--sidecar", inv.sidecar, inv.input, inv.output)
}
