package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// MkdirP создает путь рекурсивно (как `mkdir -p`). Не генерирует ошибку,
// если директория уже существует. mode==0 означает 0755 по умолчанию.
func MkdirP(path string, mode os.FileMode) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if mode == 0 {
		mode = 0o755
	}
	return os.MkdirAll(path, mode)
}

// CleanupDir удаляет все содержимое директории.
// Сама директория остается.
func CleanupDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}
