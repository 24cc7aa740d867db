package haze

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/ptp"
)

// FsEntry configures one storage root exposed to the host.
type FsEntry struct {
	DisplayName string
	RootPath    string
	Writable    bool
}

// maxStorages is bounded by the PTP storage id space we hand out.
const maxStorages = 255

// FilesystemProxy presents a uniform view over the configured storage
// roots. Storage ids are assigned in declaration order starting at 1;
// the first storage is the default. Every mutation that changes the
// visible tree emits a callback event before returning success.
type FilesystemProxy struct {
	entries []FsEntry
	sink    *callbackSink
	log     *log.ChildLogger
}

func NewFilesystemProxy(entries []FsEntry, sink *callbackSink, lg *log.ChildLogger) (*FilesystemProxy, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("fs: no storage entries configured")
	}
	if len(entries) > maxStorages {
		return nil, fmt.Errorf("fs: %d storage entries exceeds maximum of %d", len(entries), maxStorages)
	}
	return &FilesystemProxy{entries: entries, sink: sink, log: lg}, nil
}

func (f *FilesystemProxy) StorageIDs() []uint32 {
	ids := make([]uint32, len(f.entries))
	for i := range f.entries {
		ids[i] = uint32(i + 1)
	}
	return ids
}

func (f *FilesystemProxy) Entry(storageID uint32) (*FsEntry, error) {
	if storageID == 0 || int(storageID) > len(f.entries) {
		return nil, ptp.RCError(ptp.RC_InvalidStorageId)
	}
	return &f.entries[storageID-1], nil
}

// Abs joins a storage-relative path onto the storage root.
func (f *FilesystemProxy) Abs(storageID uint32, rel string) (string, error) {
	e, err := f.Entry(storageID)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.RootPath, filepath.FromSlash(rel)), nil
}

func (f *FilesystemProxy) checkWritable(storageID uint32) error {
	e, err := f.Entry(storageID)
	if err != nil {
		return err
	}
	if !e.Writable {
		return ErrStoreReadOnly
	}
	return nil
}

// StorageInfo reports the PTP storage dataset for one storage.
func (f *FilesystemProxy) StorageInfo(storageID uint32) (ptp.StorageInfo, error) {
	e, err := f.Entry(storageID)
	if err != nil {
		return ptp.StorageInfo{}, err
	}

	total, free, err := storageStat(e.RootPath)
	if err != nil {
		f.log.Warningf("statfs %s: %v", e.RootPath, err)
	}

	access := uint16(ptp.AC_ReadWrite)
	storageType := uint16(ptp.ST_FixedRAM)
	if !e.Writable {
		access = ptp.AC_ReadOnly
		storageType = ptp.ST_FixedROM
	}
	return ptp.StorageInfo{
		StorageType:        storageType,
		FilesystemType:     ptp.FST_GenericHierarchical,
		AccessCapability:   access,
		MaxCapability:      total,
		FreeSpaceInBytes:   free,
		FreeSpaceInImages:  0xFFFFFFFF,
		StorageDescription: e.DisplayName,
		VolumeLabel:        e.DisplayName,
	}, nil
}

func (f *FilesystemProxy) Stat(storageID uint32, rel string) (os.FileInfo, error) {
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// List enumerates one directory. rel of "" means the storage root.
func (f *FilesystemProxy) List(storageID uint32, rel string) ([]os.DirEntry, error) {
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(abs)
}

func (f *FilesystemProxy) OpenRead(storageID uint32, rel string) (*os.File, error) {
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// CreateFile creates (or truncates) a file and announces it.
func (f *FilesystemProxy) CreateFile(storageID uint32, rel string) (*os.File, error) {
	if err := f.checkWritable(storageID); err != nil {
		return nil, err
	}
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return nil, err
	}
	fh, err := os.Create(abs)
	if err != nil {
		return nil, err
	}
	f.sink.file(CallbackCreateFile, abs)
	return fh, nil
}

func (f *FilesystemProxy) OpenWrite(storageID uint32, rel string) (*os.File, error) {
	if err := f.checkWritable(storageID); err != nil {
		return nil, err
	}
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(abs, os.O_WRONLY, 0)
}

func (f *FilesystemProxy) Mkdir(storageID uint32, rel string) error {
	if err := f.checkWritable(storageID); err != nil {
		return err
	}
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return err
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		return err
	}
	f.sink.file(CallbackCreateFolder, abs)
	return nil
}

// DeleteTree removes a file, or a directory recursively. When some
// children cannot be removed it keeps going, removes what it can, and
// reports partial=true with the collected errors.
func (f *FilesystemProxy) DeleteTree(storageID uint32, rel string) (partial bool, err error) {
	if err := f.checkWritable(storageID); err != nil {
		return false, err
	}
	abs, err := f.Abs(storageID, rel)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return false, err
	}
	if !fi.IsDir() {
		if err := os.Remove(abs); err != nil {
			return false, err
		}
		f.sink.file(CallbackDeleteFile, abs)
		return false, nil
	}
	_, failed := f.deleteDir(abs)
	if failed != nil {
		return true, failed
	}
	return false, nil
}

// deleteDir removes dir and its contents post-order, emitting one
// event per removed entry. It returns how many entries were removed
// and the aggregated failures.
func (f *FilesystemProxy) deleteDir(dir string) (deleted int, failed error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, ent := range ents {
		child := filepath.Join(dir, ent.Name())
		if ent.IsDir() {
			n, err := f.deleteDir(child)
			deleted += n
			if err != nil {
				failed = multierr.Append(failed, err)
			}
		} else if err := os.Remove(child); err != nil {
			failed = multierr.Append(failed, err)
		} else {
			deleted++
			f.sink.file(CallbackDeleteFile, child)
		}
	}
	if failed != nil {
		return deleted, failed
	}
	if err := os.Remove(dir); err != nil {
		return deleted, err
	}
	deleted++
	f.sink.file(CallbackDeleteFolder, dir)
	return deleted, nil
}

// Rename renames an entry within its directory.
func (f *FilesystemProxy) Rename(storageID uint32, oldRel, newRel string, isDir bool) error {
	if err := f.checkWritable(storageID); err != nil {
		return err
	}
	oldAbs, err := f.Abs(storageID, oldRel)
	if err != nil {
		return err
	}
	newAbs, err := f.Abs(storageID, newRel)
	if err != nil {
		return err
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return err
	}
	if isDir {
		f.sink.rename(CallbackRenameFolder, oldAbs, newAbs)
	} else {
		f.sink.rename(CallbackRenameFile, oldAbs, newAbs)
	}
	return nil
}

// Move re-parents an entry, possibly across storages. Within one
// filesystem this is a rename; across filesystems files are copied
// then removed, which is not atomic on disk but is atomic from the
// responder's perspective.
func (f *FilesystemProxy) Move(srcStorage uint32, srcRel string, dstStorage uint32, dstRel string, isDir bool) error {
	if err := f.checkWritable(srcStorage); err != nil {
		return err
	}
	if err := f.checkWritable(dstStorage); err != nil {
		return err
	}
	srcAbs, err := f.Abs(srcStorage, srcRel)
	if err != nil {
		return err
	}
	dstAbs, err := f.Abs(dstStorage, dstRel)
	if err != nil {
		return err
	}

	err = os.Rename(srcAbs, dstAbs)
	if err != nil && !isDir {
		err = moveByCopy(srcAbs, dstAbs)
	}
	if err != nil {
		return err
	}
	if isDir {
		f.sink.rename(CallbackRenameFolder, srcAbs, dstAbs)
	} else {
		f.sink.rename(CallbackRenameFile, srcAbs, dstAbs)
	}
	return nil
}

func moveByCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
