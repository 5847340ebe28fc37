// Package settings loads the immutable-per-session project
// configuration: the shared Production path, the per-user Work path,
// ordered source/exclude patterns, the upload group, and the numeric
// project id, consumed from the INI project template.
package settings

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/re-cinq/cccopy/internal/cccerr"
)

// Project is the immutable-per-session project configuration.
type Project struct {
	ProductionDir string
	WorkingDir    string
	Sources       []string
	Excludes      []string
	UploadGroup   string
	ProjectID     int
	LogPath       string
}

// LoadTemplate parses a project template INI file:
//
//	[CONFIG]
//	PRODUCTION_DIR = ...
//	WORKING_DIR = ...
//	PROJECT_ID = ...
//	[SOURCES]
//	1 = src/**
//	2 = docs/*.md
//	[EXCLUDES]
//	1 = build/
//	[UPLOAD]
//	GROUP = shared-writers
//	[LOG]
//	PATH = ~/.cccopy/cccopy.log
func LoadTemplate(path string) (*Project, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading project template %s: %v", cccerr.ErrConfigError, path, err)
	}

	configSec := cfg.Section("CONFIG")
	prodDir := configSec.Key("PRODUCTION_DIR").String()
	workDir := configSec.Key("WORKING_DIR").String()
	projectIDStr := configSec.Key("PROJECT_ID").String()

	if prodDir == "" || workDir == "" || projectIDStr == "" {
		return nil, fmt.Errorf("%w: [CONFIG] requires PRODUCTION_DIR, WORKING_DIR, and PROJECT_ID", cccerr.ErrConfigError)
	}

	projectID, err := strconv.Atoi(projectIDStr)
	if err != nil {
		return nil, fmt.Errorf("%w: PROJECT_ID must be numeric: %v", cccerr.ErrConfigError, err)
	}

	prodDir, err = ExpandPath(prodDir)
	if err != nil {
		return nil, fmt.Errorf("%w: expanding PRODUCTION_DIR: %v", cccerr.ErrConfigError, err)
	}
	workDir, err = ExpandPath(workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: expanding WORKING_DIR: %v", cccerr.ErrConfigError, err)
	}

	sources := orderedValues(cfg.Section("SOURCES"))
	excludes := orderedValues(cfg.Section("EXCLUDES"))
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: [SOURCES] must list at least one pattern", cccerr.ErrConfigError)
	}

	uploadGroup := cfg.Section("UPLOAD").Key("GROUP").String()
	if uploadGroup == "" {
		return nil, fmt.Errorf("%w: [UPLOAD] requires GROUP", cccerr.ErrConfigError)
	}

	logPath := cfg.Section("LOG").Key("PATH").String()
	if logPath != "" {
		if logPath, err = ExpandPath(logPath); err != nil {
			return nil, fmt.Errorf("%w: expanding [LOG] PATH: %v", cccerr.ErrConfigError, err)
		}
	}

	return &Project{
		ProductionDir: prodDir,
		WorkingDir:    workDir,
		Sources:       sources,
		Excludes:      excludes,
		UploadGroup:   uploadGroup,
		ProjectID:     projectID,
		LogPath:       logPath,
	}, nil
}

// orderedValues reads the numbered keys ("1", "2", ...) of a section in
// file order, which the template writes ascending.
func orderedValues(sec *ini.Section) []string {
	keys := sec.Keys()
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, k.String())
	}
	return values
}

// ExpandPath expands "~", "${VAR}", and "$VAR" in a path value.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return os.Expand(p, os.Getenv), nil
}

// PerUserSettingsPath returns "<home>/.cccopy/<project_id>/config.ini",
// the per-project settings store consumed, not owned, by cccopy.
func PerUserSettingsPath(projectID int) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cccopy", strconv.Itoa(projectID), "config.ini"), nil
}

// WorkIdentity returns the Work repo's committer identity: the OS
// user's name and a synthesized "<user>@cccopy.com" address.
func WorkIdentity() (name, email string, err error) {
	u, err := user.Current()
	if err != nil {
		return "", "", err
	}
	username := u.Username
	if idx := strings.LastIndex(username, `\`); idx >= 0 {
		// Strip a Windows-style DOMAIN\user prefix if present.
		username = username[idx+1:]
	}
	return username, username + "@cccopy.com", nil
}

// ProductionCommitterName and ProductionCommitterEmail are the fixed
// Production committer identity, so the commit author alone records who
// actually uploaded.
const (
	ProductionCommitterName  = "cccopy_admin"
	ProductionCommitterEmail = "admin@cccopy.com"
)
