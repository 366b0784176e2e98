package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"apiremote/internal/types"
)

// ErrSettingsNotFound is returned by ReadSettings when the file does not exist
var ErrSettingsNotFound = errors.New("settings file not found")

// ParseError reports a settings file that exists but cannot be decoded
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse settings file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LoadSettings reads the settings file at path. A missing file degrades to
// empty settings with a diagnostic; malformed content returns a *ParseError.
func LoadSettings(path string) (*types.Settings, error) {
	settings, err := ReadSettings(path)
	if errors.Is(err, ErrSettingsNotFound) {
		log.Printf("Settings file not found. Please copy data/settings.example.json to %s", path)
		return emptySettings(), nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// ReadSettings is LoadSettings without the missing-file fallback
func ReadSettings(path string) (*types.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	settings := &types.Settings{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, settings)
	default:
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	normalizeSettings(settings)
	return settings, nil
}

func emptySettings() *types.Settings {
	return &types.Settings{
		SendEndpoints:    []string{},
		ReceiveEndpoints: []string{},
		DefaultHeaders:   map[string]string{},
	}
}

// normalizeSettings fills nil collections and gives every receive path a
// leading slash in cleaned form. Blank entries are dropped.
func normalizeSettings(settings *types.Settings) {
	send := make([]string, 0, len(settings.SendEndpoints))
	for _, endpoint := range settings.SendEndpoints {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			send = append(send, endpoint)
		}
	}
	settings.SendEndpoints = send

	receive := make([]string, 0, len(settings.ReceiveEndpoints))
	for _, path := range settings.ReceiveEndpoints {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		receive = append(receive, pathpkg.Clean(path))
	}
	settings.ReceiveEndpoints = receive

	if settings.DefaultHeaders == nil {
		settings.DefaultHeaders = map[string]string{}
	}
}
