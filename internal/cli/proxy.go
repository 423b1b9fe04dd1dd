package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Параметры grid proxy.
const (
	proxyEnv      = "X509_USER_PROXY"
	proxyFileName = ".x509-user-proxy"
)

// DefaultProxyFile возвращает стандартный путь proxy текущего пользователя.
func DefaultProxyFile() string {
	return fmt.Sprintf("/tmp/x509up_u%d", os.Getuid())
}

// InstallProxy копирует proxy в home/.x509-user-proxy (home создаётся
// при необходимости) и выставляет X509_USER_PROXY для отправляемых job.
// Возвращает путь к установленному proxy.
func InstallProxy(src, home string) (string, error) {
	info, err := os.Stat(home)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(home, 0o755); err != nil {
			return "", fmt.Errorf("create home directory: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("stat home directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("%s exists and is not a directory", home)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open proxy: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(home, proxyFileName)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create proxy copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy proxy: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close proxy copy: %w", err)
	}

	if err := os.Setenv(proxyEnv, dst); err != nil {
		return "", fmt.Errorf("set %s: %w", proxyEnv, err)
	}
	return dst, nil
}
