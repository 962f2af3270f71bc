// Package mimetype resolves the MIME type of filesystem entries.
//
// Resolution follows the same two steps for every entry: if the basename
// looks like NAME.EXT and the extension is known, the extension decides.
// Otherwise the entry itself is probed the way `file --mime` would: inode
// kinds (directory, symlink, empty file, fifo, ...) get inode/* types and
// regular files are content-sniffed.
package mimetype

import (
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	Directory = "inode/directory; charset=binary"
	Symlink   = "inode/symlink; charset=binary"
	Empty     = "inode/x-empty; charset=binary"
	Binary    = "application/octet-stream"
	HTML      = "text/html; charset=utf-8"
	Plain     = "text/plain; charset=utf-8"
	JSON      = "application/json"

	transportStream = "video/mp2t"
	typeScript      = "application/typescript"
	sniffLength     = 512
)

var dotted = regexp.MustCompile(`.+\..+`)

// extensions covers source and text formats the system mime database is
// often missing or disagrees on across platforms.
var extensions = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
	".css":      "text/css",
	".csv":      "text/csv",
	".js":       "application/javascript",
	".mjs":      "application/javascript",
	".cjs":      "application/javascript",
	".json":     "application/json",
	".ts":       transportStream,
	".go":       "text/x-go",
	".py":       "text/x-python",
	".rb":       "text/x-ruby",
	".rs":       "text/x-rust",
	".c":        "text/x-c",
	".h":        "text/x-c",
	".cc":       "text/x-c++",
	".cpp":      "text/x-c++",
	".hpp":      "text/x-c++",
	".java":     "text/x-java-source",
	".kt":       "text/x-kotlin",
	".swift":    "text/x-swift",
	".lua":      "text/x-lua",
	".sh":       "application/x-sh",
	".bash":     "application/x-sh",
	".zig":      "text/x-zig",
	".nix":      "text/x-nix",
	".sql":      "application/sql",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "application/toml",
	".xml":      "application/xml",
	".svg":      "image/svg+xml",
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".gif":      "image/gif",
	".webp":     "image/webp",
	".ico":      "image/x-icon",
	".pdf":      "application/pdf",
	".wasm":     "application/wasm",
	".zip":      "application/zip",
	".gz":       "application/gzip",
	".tar":      "application/x-tar",
}

// ForName returns the type registered for the extension of name, or ""
// if name has no NAME.EXT shape or the extension is unknown.
func ForName(name string) string {
	base := filepath.Base(name)
	if !dotted.MatchString(base) {
		return ""
	}

	ext := strings.ToLower(filepath.Ext(base))
	contentType, ok := extensions[ext]
	if !ok {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		return ""
	}

	return remap(withCharset(contentType))
}

// Probe inspects the entry at path without following a final symlink.
func Probe(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}

	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return Symlink, nil
	case mode.IsDir():
		return Directory, nil
	case mode&fs.ModeNamedPipe != 0:
		return "inode/fifo; charset=binary", nil
	case mode&fs.ModeSocket != 0:
		return "inode/socket; charset=binary", nil
	case mode&fs.ModeCharDevice != 0:
		return "inode/chardevice; charset=binary", nil
	case mode&fs.ModeDevice != 0:
		return "inode/blockdevice; charset=binary", nil
	case info.Size() == 0:
		return Empty, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	contentType := http.DetectContentType(head[:n])
	if contentType == Binary {
		contentType += "; charset=binary"
	}
	return remap(contentType), nil
}

// Detect resolves the type of the entry at path, preferring its extension.
// Directories are always reported as such, dotted names included. Entries
// that cannot be probed are reported as binary.
func Detect(path string) string {
	if info, err := os.Lstat(path); err == nil && info.IsDir() {
		return Directory
	}
	if contentType := ForName(path); contentType != "" {
		return contentType
	}

	contentType, err := Probe(path)
	if err != nil {
		return Binary
	}
	return contentType
}

// IsDirectory reports whether contentType is the probe result for a directory.
func IsDirectory(contentType string) bool {
	return strings.HasPrefix(contentType, "inode/directory")
}

// IsSymlink reports whether contentType is the probe result for a symlink.
func IsSymlink(contentType string) bool {
	return strings.HasPrefix(contentType, "inode/symlink")
}

// Essence strips parameters such as charset from contentType.
func Essence(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			return strings.TrimSpace(contentType[:i])
		}
		return strings.TrimSpace(contentType)
	}
	return mediaType
}

func withCharset(contentType string) string {
	if strings.Contains(contentType, "charset=") {
		return contentType
	}
	switch {
	case strings.HasPrefix(contentType, "text/"),
		contentType == "application/javascript",
		contentType == "application/json":
		return contentType + "; charset=utf-8"
	}
	return contentType
}

// remap replaces the MPEG transport stream type, which .ts files pick up
// from most mime databases, with the TypeScript type.
func remap(contentType string) string {
	return strings.Replace(contentType, transportStream, typeScript, 1)
}
