// Package bconfig reads the INI-style configuration file cmd/bsync
// loads at startup (a missing file is an error) for settings that don't make sense as
// positional arguments or repeated flags: temp directory, keyring
// path, index path, and bucket credentials. It is grounded on
// _examples/original_source/config.py's readConfig and on
// _examples/original_source/ssync.py's two-section split (`[SSync]`
// for local settings, `[RemoteB2]` for bucket credentials) — read
// here with a hand-rolled `key = value` parser rather than
// configparser's fuller feature set (no interpolation, no
// environment-variable expansion), since required keys failing loudly
// when absent is the only behavior any caller in the original
// actually depends on.
package bconfig

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Section names cmd/bsync reads from its config file.
const (
	LocalSection  = "bsync"
	RemoteSection = "remote"
)

// Config holds every setting the file may provide. All fields are
// optional from the file's point of view; cmd/bsync decides which are
// actually required. No command-line flag overrides these fields.
type Config struct {
	TempDir        string
	GPGHome        string
	IndexPath      string
	NameSalt       string
	FixedSalt      string
	AccountID      string
	ApplicationKey string
}

// Load parses the `[bsync]` and `[remote]` sections of the INI-style
// file at path. Lines starting with "#" or ";" are comments; blank
// lines are ignored. Sections other than the two named above are
// parsed but ignored, so a file shared with unrelated tools doesn't
// need to be split up.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("bconfig: open %s: %w", path, err)
	}
	defer f.Close()

	sections := map[string]map[string]string{}
	current := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if sections[current] == nil {
				sections[current] = map[string]string{}
			}
			continue
		}
		if current == "" {
			return Config{}, fmt.Errorf("bconfig: %s: %q appears before any [section]", path, line)
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("bconfig: %s: malformed line %q", path, line)
		}
		sections[current][strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("bconfig: read %s: %w", path, err)
	}

	local := sections[LocalSection]
	remote := sections[RemoteSection]
	return Config{
		TempDir:        local["TempDir"],
		GPGHome:        local["GPGHome"],
		IndexPath:      local["IndexPath"],
		NameSalt:       local["NameSalt"],
		FixedSalt:      local["FixedSalt"],
		AccountID:      remote["AccountId"],
		ApplicationKey: remote["ApplicationKey"],
	}, nil
}
