package rcm_test

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"io"
	"testing"

	"rcm-go/internal/database"
	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
	"rcm-go/internal/reader"
	"rcm-go/internal/testutil"
	"rcm-go/internal/vault"
)

type importFixture struct {
	repo     *database.SQLiteRepository
	store    *vault.MemoryStore
	pipeline *rcm.ImportPipeline
}

func newImportFixture(t *testing.T, syncEnabled bool) *importFixture {
	t.Helper()
	repo := testutil.NewTestRepository(t)
	store := vault.NewMemoryStore()
	pipeline := rcm.NewImportPipeline(repo, store, reader.New(),
		testutil.FixedClock(), testutil.NewStubNamer(), rcm.NewNopLogger(), syncEnabled)
	return &importFixture{repo: repo, store: store, pipeline: pipeline}
}

func TestImportPipeline_Run(t *testing.T) {
	t.Run("imports loose files into a new set", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		pathA := testutil.WriteFile(t, dir, "alpha.rom", []byte("alpha data"))
		pathB := testutil.WriteFile(t, dir, "beta.rom", []byte("beta data"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{pathA, pathB},
			FileType:    model.FileTypeRom,
			FileSetName: "Alpha Collection",
			Source:      "https://example.org/alpha",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if len(result.Created) != 2 {
			t.Fatalf("created %d files, want 2", len(result.Created))
		}
		if len(result.Existing) != 0 {
			t.Errorf("existing = %d, want 0", len(result.Existing))
		}
		if result.FileSet == nil || result.FileSet.ID == 0 {
			t.Fatal("expected a persisted file set")
		}
		if f.store.Len() != 2 {
			t.Errorf("vault holds %d archives, want 2", f.store.Len())
		}

		members, err := f.repo.FindFileSetMembers(result.FileSet.ID)
		if err != nil {
			t.Fatalf("FindFileSetMembers() error = %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("set has %d members, want 2", len(members))
		}
		if members[0].MemberName != "alpha.rom" || members[0].Position != 0 {
			t.Errorf("member 0 = %q at %d, want alpha.rom at 0", members[0].MemberName, members[0].Position)
		}
		if members[1].MemberName != "beta.rom" || members[1].Position != 1 {
			t.Errorf("member 1 = %q at %d, want beta.rom at 1", members[1].MemberName, members[1].Position)
		}

		info, err := f.repo.FindFileInfoByChecksum(testutil.SHA1([]byte("alpha data")), model.FileTypeRom)
		if err != nil {
			t.Fatalf("FindFileInfoByChecksum() error = %v", err)
		}
		if info == nil {
			t.Fatal("expected file info for alpha data")
		}
		if info.Size != int64(len("alpha data")) {
			t.Errorf("size = %d, want %d", info.Size, len("alpha data"))
		}
	})

	t.Run("stages each file as a single-member zip", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "alpha.rom", []byte("alpha data"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Alpha",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		info := result.Created[0]
		rc, err := f.store.Open(info.FileType, info.ArchiveName)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer rc.Close()
		container, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading container: %v", err)
		}

		zr, err := zip.NewReader(bytes.NewReader(container), int64(len(container)))
		if err != nil {
			t.Fatalf("container is not a zip: %v", err)
		}
		if len(zr.File) != 1 {
			t.Fatalf("container has %d members, want 1", len(zr.File))
		}
		if zr.File[0].Name != "alpha.rom" {
			t.Errorf("member name = %q, want alpha.rom", zr.File[0].Name)
		}
		member, err := zr.File[0].Open()
		if err != nil {
			t.Fatalf("opening member: %v", err)
		}
		defer member.Close()
		data, err := io.ReadAll(member)
		if err != nil {
			t.Fatalf("reading member: %v", err)
		}
		if string(data) != "alpha data" {
			t.Errorf("member content = %q, want alpha data", data)
		}
	})

	t.Run("imports members from a zip source", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteZip(t, dir, "pack.zip", map[string][]byte{
			"one.d64": []byte("disk one"),
			"two.d64": []byte("disk two"),
		})

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeDiskImage,
			FileSetName: "Disks",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(result.Created) != 2 {
			t.Fatalf("created %d files, want 2", len(result.Created))
		}

		members, err := f.repo.FindFileSetMembers(result.FileSet.ID)
		if err != nil {
			t.Fatalf("FindFileSetMembers() error = %v", err)
		}
		names := map[string]bool{}
		for _, m := range members {
			names[m.MemberName] = true
		}
		if !names["one.d64"] || !names["two.d64"] {
			t.Errorf("member names = %v, want one.d64 and two.d64", names)
		}
	})

	t.Run("deduplicates against existing files", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "shared.rom", []byte("shared data"))

		first, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Set One",
		})
		if err != nil {
			t.Fatalf("first Run() error = %v", err)
		}

		second, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Set Two",
		})
		if err != nil {
			t.Fatalf("second Run() error = %v", err)
		}

		if len(second.Created) != 0 {
			t.Errorf("second import created %d files, want 0", len(second.Created))
		}
		if len(second.Existing) != 1 {
			t.Fatalf("second import reused %d files, want 1", len(second.Existing))
		}
		if second.Existing[0].ID != first.Created[0].ID {
			t.Errorf("reused file info %d, want %d", second.Existing[0].ID, first.Created[0].ID)
		}
		if f.store.Len() != 1 {
			t.Errorf("vault holds %d archives, want 1", f.store.Len())
		}
	})

	t.Run("selection filter restricts the import", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		pathA := testutil.WriteFile(t, dir, "keep.rom", []byte("keep me"))
		pathB := testutil.WriteFile(t, dir, "skip.rom", []byte("skip me"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths:       []string{pathA, pathB},
			FileType:          model.FileTypeRom,
			FileSetName:       "Partial",
			SelectedChecksums: [][]byte{testutil.SHA1([]byte("keep me"))},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(result.Created) != 1 {
			t.Fatalf("created %d files, want 1", len(result.Created))
		}

		skipped, err := f.repo.FindFileInfoByChecksum(testutil.SHA1([]byte("skip me")), model.FileTypeRom)
		if err != nil {
			t.Fatalf("FindFileInfoByChecksum() error = %v", err)
		}
		if skipped != nil {
			t.Error("unselected file was imported")
		}
	})

	t.Run("member name overrides win over observed names", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		data := []byte("rename me")
		path := testutil.WriteFile(t, dir, "ugly-dump-name.bin", data)

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Renamed",
			MemberNames: map[string]string{
				hex.EncodeToString(testutil.SHA1(data)): "pretty.rom",
			},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		members, err := f.repo.FindFileSetMembers(result.FileSet.ID)
		if err != nil {
			t.Fatalf("FindFileSetMembers() error = %v", err)
		}
		if len(members) != 1 || members[0].MemberName != "pretty.rom" {
			t.Errorf("members = %+v, want one named pretty.rom", members)
		}
	})

	t.Run("empty source produces no set and no rows", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteZip(t, dir, "empty.zip", map[string][]byte{"folder/": nil})

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Empty",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.FileSet != nil {
			t.Error("expected no file set for an empty source")
		}
		count, err := f.repo.CountFileSets()
		if err != nil {
			t.Fatalf("CountFileSets() error = %v", err)
		}
		if count != 0 {
			t.Errorf("file sets = %d, want 0", count)
		}
	})

	t.Run("appends to an existing set in update mode", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		pathA := testutil.WriteFile(t, dir, "first.rom", []byte("first"))
		pathB := testutil.WriteFile(t, dir, "second.rom", []byte("second"))

		first, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{pathA},
			FileType:    model.FileTypeRom,
			FileSetName: "Growing",
		})
		if err != nil {
			t.Fatalf("first Run() error = %v", err)
		}

		second, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{pathB},
			FileType:    model.FileTypeRom,
			FileSetID:   first.FileSet.ID,
		})
		if err != nil {
			t.Fatalf("second Run() error = %v", err)
		}
		if second.FileSet.ID != first.FileSet.ID {
			t.Errorf("update created set %d, want %d", second.FileSet.ID, first.FileSet.ID)
		}

		members, err := f.repo.FindFileSetMembers(first.FileSet.ID)
		if err != nil {
			t.Fatalf("FindFileSetMembers() error = %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("set has %d members, want 2", len(members))
		}
		if members[1].MemberName != "second.rom" || members[1].Position != 1 {
			t.Errorf("appended member = %q at %d, want second.rom at 1", members[1].MemberName, members[1].Position)
		}
	})

	t.Run("journals upload-pending rows when sync is enabled", func(t *testing.T) {
		f := newImportFixture(t, true)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "synced.rom", []byte("synced"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Synced",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		info := result.Created[0]
		entry, err := f.repo.LatestSyncLog(info.ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry == nil {
			t.Fatal("expected an upload-pending journal row")
		}
		if entry.Status != model.SyncUploadPending {
			t.Errorf("status = %s, want %s", entry.Status, model.SyncUploadPending)
		}
		if want := info.FileType.CloudKey(info.ArchiveName); entry.CloudKey != want {
			t.Errorf("cloud key = %s, want %s", entry.CloudKey, want)
		}
	})

	t.Run("skips journalling when sync is disabled", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "local.rom", []byte("local only"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Local",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		entry, err := f.repo.LatestSyncLog(result.Created[0].ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry != nil {
			t.Errorf("unexpected journal row: %+v", entry)
		}
	})

	t.Run("creates a release when requested", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "game.rom", []byte("game bytes"))

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Game Set",
			Release: &rcm.ReleaseRequest{
				ReleaseName:       "Game (EU)",
				SoftwareTitleName: "Game",
			},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.Release == nil || result.Release.ID == 0 {
			t.Fatal("expected a persisted release")
		}

		releases, err := f.repo.FindReleasesReferencingFileSet(result.FileSet.ID)
		if err != nil {
			t.Fatalf("FindReleasesReferencingFileSet() error = %v", err)
		}
		if len(releases) != 1 || releases[0].ID != result.Release.ID {
			t.Errorf("releases = %+v, want the created release", releases)
		}
	})

	t.Run("aborted import leaves no staged bytes", func(t *testing.T) {
		f := newImportFixture(t, false)
		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "orphan.rom", []byte("orphan"))

		// A selected checksum nothing supplies is dropped, not fatal. A
		// missing source path is fatal.
		_, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path, dir + "/does-not-exist.rom"},
			FileType:    model.FileTypeRom,
			FileSetName: "Broken",
		})
		if err == nil {
			t.Fatal("expected an error for a missing source")
		}
		if f.store.Len() != 0 {
			t.Errorf("vault holds %d archives after abort, want 0", f.store.Len())
		}
		count, err := f.repo.CountFileInfos()
		if err != nil {
			t.Fatalf("CountFileInfos() error = %v", err)
		}
		if count != 0 {
			t.Errorf("file infos = %d, want 0", count)
		}
	})

	t.Run("matches imported files against the catalogue", func(t *testing.T) {
		f := newImportFixture(t, false)
		data := []byte("catalogued bytes")
		sha := testutil.SHA1(data)

		err := f.repo.SaveDatFile(&model.DatFile{
			Name: "Test DAT",
			Games: []*model.DatGame{{
				Name: "Known Game",
				Roms: []*model.DatRom{{Name: "known.rom", Size: int64(len(data)), SHA1: sha}},
			}},
		})
		if err != nil {
			t.Fatalf("SaveDatFile() error = %v", err)
		}

		dir := t.TempDir()
		path := testutil.WriteFile(t, dir, "dump.bin", data)

		result, err := f.pipeline.Run(&rcm.ImportRequest{
			SourcePaths: []string{path},
			FileType:    model.FileTypeRom,
			FileSetName: "Catalogued",
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		roms := result.Matches[hex.EncodeToString(sha)]
		if len(roms) != 1 || roms[0].Name != "known.rom" {
			t.Errorf("matches = %+v, want known.rom", roms)
		}
	})
}
