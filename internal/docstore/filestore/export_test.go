package filestore

// SetRename replaces the rename used to move staged documents into place.
func SetRename(s *FileStore, fn func(oldpath, newpath string) error) {
	s.rename = fn
}
