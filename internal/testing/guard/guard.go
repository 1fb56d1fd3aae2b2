package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ERP_TEST_MODE") == "" {
			_ = os.Setenv("ERP_TEST_MODE", "1")
		}
	})
}
