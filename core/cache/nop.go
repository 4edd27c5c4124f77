package cache

// Nop caches nothing: Get always misses and Delete finds nothing to drop.
// The sync engine invalidates into it when it runs without a cache.
type Nop struct{}

var _ Cache = (*Nop)(nil)

func NewNop() *Nop { return &Nop{} }

func (*Nop) Get(string) (any, bool)        { return nil, false }
func (*Nop) Put(string, any, ...PutOption) {}
func (*Nop) Delete(string) bool            { return false }
