package offsets

import (
	"testing"

	"github.com/lvonguyen/falconstream/internal/config"
)

func TestRedisStore_KeyIsScopedByAppAndPartition(t *testing.T) {
	store := NewRedisStore(config.OffsetsConfig{Addr: "localhost:6379"}, "eda")
	defer store.Close()

	if got := store.key("3"); got != "falconstream:offset:eda:3" {
		t.Errorf("key = %q, want %q", got, "falconstream:offset:eda:3")
	}
}
