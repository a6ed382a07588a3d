package utils

import "os"

// FileExists checks if something other than a directory exists at name.
// A directory at that path does not count, since the rule database uses
// this to decide whether a host-list entry names a hosts-file to parse
// or a literal hostname. Readability is not checked here.
func FileExists(name string) (bool, error) {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return !info.IsDir(), nil
}
