package startup

import (
	"os"
	"time"

	"github.com/tradehub/internal/logger"
)

const maxBackoff = 30 * time.Second

// retryUntil вызывает connect с экспоненциальной паузой (2s, 4s, ... до 30s), пока не истечёт maxWait.
// После дедлайна процесс завершается: сервис без хранилища бесполезен.
func retryUntil(maxWait time.Duration, logPrefix, what string, connect func() error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := connect()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
