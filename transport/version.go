package transport

// Library identity sent in the User-Agent header.
const (
	LibraryName = "opengemini-client-go"
	Version     = "0.1.0"
)

// UserAgent returns "<library>/<major>.<minor>.<patch>".
func UserAgent() string {
	return LibraryName + "/" + Version
}
