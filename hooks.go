package tiercache

// Tier identifies one of the two cache tiers.
type Tier uint8

const (
	TierLocal Tier = iota
	TierRemote
)

func (t Tier) String() string {
	if t == TierLocal {
		return "local"
	}
	return "remote"
}

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths (see hooks/async for a queueing wrapper).
type Hooks interface {
	// A tier call failed and was absorbed. op ∈ {"get", "set", "del", "scan", "lock", "unlock"}.
	TierError(tier Tier, op, key string, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(tier Tier, key string)

	// An entry was deleted on read. reason ∈ {"corrupt", "expired", "value_decode"}.
	SelfHeal(tier Tier, key, reason string)

	// A getOrSet factory failed; the caller got a miss.
	FactoryFailed(key string, err error)

	// A factory result was not cached because the key was removed meanwhile.
	StaleWriteSkipped(key string)

	// RemoveByPattern needed key enumeration the remote tier does not offer.
	PatternUnsupported(pattern string)

	// Locks are being taken without an atomic set-if-absent (reported once per cache).
	LockWithoutConditionalWrite()

	// GenStore errors (snapshot or bump).
	GenError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TierError(Tier, string, string, error) {}
func (NopHooks) ProviderSetRejected(Tier, string)      {}
func (NopHooks) SelfHeal(Tier, string, string)         {}
func (NopHooks) FactoryFailed(string, error)           {}
func (NopHooks) StaleWriteSkipped(string)              {}
func (NopHooks) PatternUnsupported(string)             {}
func (NopHooks) LockWithoutConditionalWrite()          {}
func (NopHooks) GenError(string, error)                {}
