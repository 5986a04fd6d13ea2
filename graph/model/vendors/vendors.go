// Package vendors constructs model adapters by vendor name.
package vendors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dshills/flowstate/graph/model"
	"github.com/dshills/flowstate/graph/model/anthropic"
	"github.com/dshills/flowstate/graph/model/google"
	"github.com/dshills/flowstate/graph/model/openai"
)

// Config selects and configures a backend.
type Config struct {
	Vendor model.Vendor

	// APIKey authenticates against the vendor. Required for every vendor
	// except GenericREST, where it is optional.
	APIKey string

	// BaseURL overrides the vendor endpoint. Required for GenericREST.
	BaseURL string

	// Model is the default model for requests that do not name one.
	Model string

	// HTTPClient is used by HTTP-based backends when set.
	HTTPClient *http.Client
}

// New returns the adapter for cfg.Vendor. Azure and Bedrock are recognized
// vendors without a backend and fail with model.ErrVendorNotImplemented;
// anything outside model.NativeVendors fails with model.ErrUnsupportedVendor.
func New(ctx context.Context, cfg Config) (model.Adapter, error) {
	if !model.IsNativeVendor(cfg.Vendor) {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedVendor, string(cfg.Vendor))
	}

	switch cfg.Vendor {
	case model.VendorGenericREST:
		if cfg.BaseURL == "" {
			return nil, errors.New("base URL is required for GenericREST")
		}
		var opts []model.RESTOption
		if cfg.HTTPClient != nil {
			opts = append(opts, model.WithHTTPClient(cfg.HTTPClient))
		}
		return model.NewRESTAdapter(cfg.BaseURL, cfg.APIKey, opts...), nil

	case model.VendorOpenAI:
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
		}
		return openai.New(cfg.APIKey, opts...)

	case model.VendorAnthropic:
		var opts []anthropic.Option
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(cfg.HTTPClient))
		}
		return anthropic.New(cfg.APIKey, opts...)

	case model.VendorVertex:
		var opts []google.Option
		if cfg.Model != "" {
			opts = append(opts, google.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(cfg.BaseURL))
		}
		return google.New(ctx, cfg.APIKey, opts...)

	default:
		return nil, fmt.Errorf("%w: %s", model.ErrVendorNotImplemented, cfg.Vendor)
	}
}
