package render

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/videogen-api/internal/storage"
)

// ErrInvalidProperties is returned when a property bag fails validation.
var ErrInvalidProperties = errors.New("render: invalid properties")

// Colors applied by WithDefaults when a request leaves them empty.
const (
	// DefaultBackgroundColor is the solid canvas color behind the text.
	DefaultBackgroundColor = "#000000"
	// DefaultTextColor is the title and subtitle color.
	DefaultTextColor = "#ffffff"
)

// Properties is the data handed to the composition. Media fields hold file
// names inside the uploads area, which the render engine serves as static files.
type Properties struct {
	Title           string `json:"title,omitempty" validate:"max=500"`
	Subtitle        string `json:"subtitle,omitempty" validate:"max=1000"`
	BackgroundColor string `json:"backgroundColor,omitempty" validate:"omitempty,hexcolor"`
	TextColor       string `json:"textColor,omitempty" validate:"omitempty,hexcolor"`
	ImageURL        string `json:"imageUrl,omitempty" validate:"omitempty,mediafile"`
	VideoURL        string `json:"videoUrl,omitempty" validate:"omitempty,mediafile"`
	AudioURL        string `json:"audioUrl,omitempty" validate:"omitempty,mediafile"`
	LogoURL         string `json:"logoUrl,omitempty" validate:"omitempty,mediafile"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mediafile", func(fl validator.FieldLevel) bool {
		return storage.ValidName(fl.Field().String())
	})
	return v
}

// WithDefaults fills unset colors.
func (p Properties) WithDefaults() Properties {
	if p.BackgroundColor == "" {
		p.BackgroundColor = DefaultBackgroundColor
	}
	if p.TextColor == "" {
		p.TextColor = DefaultTextColor
	}
	return p
}

// Validate checks the property bag.
func (p Properties) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidProperties, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidProperties, err)
	}
	return nil
}

// JSON encodes the property bag as passed on the command line.
func (p Properties) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}
