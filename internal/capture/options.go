package capture

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Default capture options.
const (
	DefaultWidth    = 1920
	DefaultHeight   = 1080
	DefaultFullPage = true
	DefaultQuality  = 90
)

// Options are resolved capture settings. Build them with NewOptions or
// DefaultOptions; the zero value is not meaningful.
type Options struct {
	width    int
	height   int
	fullPage bool
	quality  int
}

// Width is the viewport width in CSS pixels.
func (o Options) Width() int { return o.width }

// Height is the viewport height in CSS pixels.
func (o Options) Height() int { return o.height }

// FullPage reports whether the whole scrollable document is captured.
func (o Options) FullPage() bool { return o.fullPage }

// Quality is the requested image quality in [0,100]. PNG output ignores it.
func (o Options) Quality() int { return o.quality }

// OptionsInput is the optional, client-supplied form of Options.
type OptionsInput struct {
	Width    *int  `json:"width,omitempty" validate:"omitempty,gt=0"`
	Height   *int  `json:"height,omitempty" validate:"omitempty,gt=0"`
	FullPage *bool `json:"full_page,omitempty"`
	Quality  *int  `json:"quality,omitempty" validate:"omitempty,min=0,max=100"`
}

// DefaultOptions returns 1920x1080, full page, quality 90.
func DefaultOptions() Options {
	return Options{
		width:    DefaultWidth,
		height:   DefaultHeight,
		fullPage: DefaultFullPage,
		quality:  DefaultQuality,
	}
}

// NewOptions fills unset fields from DefaultOptions and checks bounds.
func NewOptions(in OptionsInput) (Options, error) {
	return in.Resolve(DefaultOptions())
}

// Resolve fills unset fields from defaults and checks bounds.
func (in OptionsInput) Resolve(defaults Options) (Options, error) {
	if err := optionsValidator().Struct(in); err != nil {
		return Options{}, &ValidationError{Reason: ReasonInvalidOptions, Message: describeValidation(err)}
	}
	opts := defaults
	if in.Width != nil {
		opts.width = *in.Width
	}
	if in.Height != nil {
		opts.height = *in.Height
	}
	if in.FullPage != nil {
		opts.fullPage = *in.FullPage
	}
	if in.Quality != nil {
		opts.quality = *in.Quality
	}
	return opts, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func optionsValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// prefer json tag names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		validate = v
	})
	return validate
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid capture options"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
