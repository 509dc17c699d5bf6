package render

import (
	"fmt"
	"path/filepath"
)

// fileEnumerator enumerates filenames
type fileEnumerator struct {
	i         int
	name      string
	extension string
}

// filename returns the name of the next consecutive enumerated file
func (f *fileEnumerator) filename() string {
	name := fmt.Sprintf("%v%04d%v", f.name, f.i, f.extension)
	f.i++
	return name
}

// FilenameEnumerator returns a function which returns filenames with a
// zero padded counter suffix, starting at start and increasing by one
// on each call. The filename parameter is the path of the files without
// the counter, and extension is appended after the counter.
func FilenameEnumerator(start int, filename, extension string) func() string {
	enum := fileEnumerator{i: start, name: filename, extension: extension}
	return enum.filename
}

// FrameFiles enumerates PNG files named frame0000.png, frame0001.png
// and so on in dir
func FrameFiles(dir string) func() string {
	return FilenameEnumerator(0, filepath.Join(dir, "frame"), ".png")
}
