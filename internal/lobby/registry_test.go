package lobby

import (
	"net"
	"testing"
)

func TestRegistryLookupsRequireExactEndpoint(t *testing.T) {
	r := registry{}
	index := r.alloc()
	if index != 0 {
		t.Fatalf("alloc returned %d, want 0", index)
	}
	g := r.games[index]
	g.Addr = &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 47800}
	g.ClientRandValue = 0xAAAA
	g.ServerRandValue = 0xBBBB

	cases := []struct {
		name string
		addr *net.UDPAddr
		want int
	}{
		{"exact match", &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 47800}, 0},
		{"different port", &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 47801}, invalidIndex},
		{"different ip", &net.UDPAddr{IP: net.IPv4(1, 2, 3, 5), Port: 47800}, invalidIndex},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.findByClientToken(tc.addr, 0xAAAA); got != tc.want {
				t.Errorf("findByClientToken = %d, want %d", got, tc.want)
			}
			if got := r.findByServerToken(tc.addr, 0xBBBB); got != tc.want {
				t.Errorf("findByServerToken = %d, want %d", got, tc.want)
			}
		})
	}

	// Token mismatch on the right endpoint is still a miss.
	exact := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 47800}
	if got := r.findByClientToken(exact, 0xAAAB); got != invalidIndex {
		t.Errorf("findByClientToken with wrong token = %d, want miss", got)
	}
	if got := r.findByServerToken(exact, 0xBBBA); got != invalidIndex {
		t.Errorf("findByServerToken with wrong token = %d, want miss", got)
	}
}

func TestRegistryAllocCapAndFree(t *testing.T) {
	r := registry{maxGames: 2}

	if got := r.alloc(); got != 0 {
		t.Errorf("first alloc = %d, want 0", got)
	}
	if got := r.alloc(); got != 1 {
		t.Errorf("second alloc = %d, want 1", got)
	}
	if got := r.alloc(); got != invalidIndex {
		t.Errorf("alloc past cap = %d, want invalid", got)
	}

	if !r.free(0) {
		t.Errorf("free(0) failed")
	}
	if r.len() != 1 {
		t.Errorf("len = %d after free, want 1", r.len())
	}

	// Freeing a nonexistent index must not touch the registry.
	if r.free(5) {
		t.Errorf("free(5) succeeded on a 1-entry registry")
	}
	if r.free(-1) {
		t.Errorf("free(-1) succeeded")
	}
	if r.len() != 1 {
		t.Errorf("len changed by invalid free")
	}
}

func TestNewServerRandValueAvoidsLiveTokens(t *testing.T) {
	r := registry{}
	seen := make(map[uint32]bool)

	for i := 0; i < 64; i++ {
		v := r.newServerRandValue()
		if v == 0 {
			t.Fatalf("generated zero token")
		}
		if seen[v] {
			t.Fatalf("token %#x repeated among live entries", v)
		}
		seen[v] = true

		index := r.alloc()
		r.games[index].ServerRandValue = v
	}
}
