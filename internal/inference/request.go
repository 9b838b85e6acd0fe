package inference

// RequestOptions carries caller-supplied values; nil means "use the default".
type RequestOptions struct {
	Prompt      string
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Seed        *int64
}

// Generation defaults applied when the caller leaves a knob unset.
const (
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.8
	DefaultTopP        = 0.95
)

// ResolveRequest fills a Request from options, applying defaults for unset
// fields.
func ResolveRequest(opts RequestOptions) Request {
	req := Request{
		Prompt:      opts.Prompt,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		Stop:        opts.Stop,
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}
	return req
}
