package bus

type (
	subscribeOpts struct {
		name string
	}

	SubscribeOption func(*subscribeOpts)
)

// WithName sets the handler identity used in logs. Without it a random id is used.
func WithName(name string) SubscribeOption {
	return func(o *subscribeOpts) { o.name = name }
}
