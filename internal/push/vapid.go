package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/tradehub/internal/logger"
)

const DefaultVAPIDKeysFile = "config/vapid.json"

// VAPIDKeys — пара ключей Web Push. Публичный отдаётся браузеру при подписке.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k VAPIDKeys) Valid() bool { return k.PublicKey != "" && k.PrivateKey != "" }

func GenerateVAPIDKeys() (VAPIDKeys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("push: generate vapid: %w", err)
	}
	return VAPIDKeys{PublicKey: pub, PrivateKey: priv}, nil
}

// LoadOrCreateVAPIDKeys читает пару из файла, а если файла нет, создаёт её и сохраняет (0600).
// Повреждённый или неполный файл не перезаписывается: это ошибка конфигурации.
// Если сохранить не удалось, сгенерированная пара всё равно возвращается.
func LoadOrCreateVAPIDKeys(path string) (VAPIDKeys, error) {
	if path == "" {
		path = DefaultVAPIDKeysFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var keys VAPIDKeys
		if err := json.Unmarshal(data, &keys); err != nil {
			return VAPIDKeys{}, fmt.Errorf("push: %s: %w", path, err)
		}
		if !keys.Valid() {
			return VAPIDKeys{}, fmt.Errorf("push: %s: incomplete key pair", path)
		}
		return keys, nil
	case !errors.Is(err, os.ErrNotExist):
		return VAPIDKeys{}, fmt.Errorf("push: read %s: %w", path, err)
	}

	keys, err := GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	if err := writeKeyFile(path, keys); err != nil {
		logger.Errorf("push: save VAPID keys to %s: %v (keys kept in memory)", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID keys generated in %s", path)
	return keys, nil
}

func writeKeyFile(path string, keys VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
