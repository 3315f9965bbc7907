// Package config loads the framework's and the remote-provider's
// recognised configuration keys into plain structs. It does not watch
// for changes; callers reload by calling Load* again.
package config
