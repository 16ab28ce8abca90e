package memory

import (
	"testing"

	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/storage/storagetest"
)

func TestManager_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) interfaces.StorageManager {
		return NewManager()
	})
}
