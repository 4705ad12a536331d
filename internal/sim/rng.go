package sim

// RNG is a xorshift64* generator. The simulation keeps its own generator
// instead of math/rand so the full state is a single word that can be
// persisted and restored, which keeps runs reproducible across save/load.
type RNG struct {
	state uint64
}

func NewRNG(seed int64) *RNG {
	s := uint64(seed)
	if s == 0 {
		s = 0x9E3779B97F4A7C15
	}
	return &RNG{state: s}
}

func (r *RNG) next() uint64 {
	x := r.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.state = x
	return x * 0x2545F4914F6CDD1D
}

// Intn returns a value in [0, n). n must be positive.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("sim: Intn with non-positive bound")
	}
	return int(r.next() % uint64(n))
}

// Read fills p from the generator stream, making the RNG usable as an
// io.Reader (uuid minting). Never fails.
func (r *RNG) Read(p []byte) (int, error) {
	for i := 0; i < len(p); i += 8 {
		v := r.next()
		for j := 0; j < 8 && i+j < len(p); j++ {
			p[i+j] = byte(v >> (8 * j))
		}
	}
	return len(p), nil
}

// State exposes the generator word for persistence.
func (r *RNG) State() uint64 { return r.state }

// SetState restores a persisted generator word.
func (r *RNG) SetState(s uint64) {
	if s == 0 {
		s = 0x9E3779B97F4A7C15
	}
	r.state = s
}
