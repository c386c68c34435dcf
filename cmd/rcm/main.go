package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rcm-go/internal/app"
	"rcm-go/internal/config"
	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func parseChecksums(hexes []string) ([][]byte, error) {
	var sums [][]byte
	for _, h := range hexes {
		sum, err := hex.DecodeString(h)
		if err != nil || len(sum) != 20 {
			return nil, fmt.Errorf("invalid sha1 %q", h)
		}
		sums = append(sums, sum)
	}
	return sums, nil
}

// parseMemberNames parses repeated "sha1hex=name" flags.
func parseMemberNames(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	names := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		sha, name, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid member name %q (want sha1=name)", pair)
		}
		names[strings.ToLower(sha)] = name
	}
	return names, nil
}

var rootCmd = &cobra.Command{
	Use:   "rcm",
	Short: "Personal software collection manager",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Vault:      %s (%s)\n", cfg.Vault.Type, cfg.Vault.CollectionRoot)
		fmt.Printf("Database:   %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Sync:       enabled=%v\n", cfg.Sync.Enabled)
		if cfg.Sync.S3 != nil {
			fmt.Printf("S3 Bucket:  %s (%s)\n", cfg.Sync.S3.Bucket, cfg.Sync.S3.Region)
		}
		return nil
	},
}

var configCredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Store object-store credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if cfg.Sync.S3 == nil || cfg.Sync.S3.CredentialsPath == "" {
			return fmt.Errorf("no credentials_path configured in the s3 section")
		}

		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Access Key ID: ")
		accessKey, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading access key: %w", err)
		}

		fmt.Print("Secret Access Key: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading secret key: %w", err)
		}

		creds := &config.Credentials{
			AccessKeyID:     strings.TrimSpace(accessKey),
			SecretAccessKey: strings.TrimSpace(string(secret)),
		}
		if err := config.WriteCredentials(cfg.Sync.S3.CredentialsPath, creds); err != nil {
			return fmt.Errorf("writing credentials: %w", err)
		}

		fmt.Printf("Credentials written to %s\n", cfg.Sync.S3.CredentialsPath)
		return nil
	},
}

// system command
var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Manage platforms",
}

var systemAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AddSystem")
		if err != nil {
			return err
		}
		defer a.Close()

		sys, err := a.Service().AddSystem(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("#%d  %s\n", sys.ID, sys.Name)
		return nil
	},
}

var systemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListSystems")
		if err != nil {
			return err
		}
		defer a.Close()

		systems, err := a.Service().ListSystems()
		if err != nil {
			return err
		}
		if len(systems) == 0 {
			fmt.Println("No systems registered.")
			return nil
		}
		for _, sys := range systems {
			fmt.Printf("#%d  %s\n", sys.ID, sys.Name)
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan SOURCE...",
	Short: "List the files a source contains",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ScanSources")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.ScanSources(args)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %10d  %s\n", hex.EncodeToString(rec.SHA1), rec.Size, rec.Name)
		}
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import SOURCE...",
	Short: "Import files into the collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("type")
		setName, _ := cmd.Flags().GetString("set-name")
		canonical, _ := cmd.Flags().GetString("canonical-name")
		source, _ := cmd.Flags().GetString("source")
		systemIDs, _ := cmd.Flags().GetInt64Slice("system")
		selectHexes, _ := cmd.Flags().GetStringArray("select")
		namePairs, _ := cmd.Flags().GetStringArray("member-name")
		releaseName, _ := cmd.Flags().GetString("release")
		titleName, _ := cmd.Flags().GetString("title")

		selected, err := parseChecksums(selectHexes)
		if err != nil {
			return err
		}
		memberNames, err := parseMemberNames(namePairs)
		if err != nil {
			return err
		}

		req := &rcm.ImportRequest{
			SourcePaths:          args,
			FileType:             model.FileType(fileType),
			SystemIDs:            systemIDs,
			SelectedChecksums:    selected,
			MemberNames:          memberNames,
			FileSetName:          setName,
			FileSetCanonicalName: canonical,
			Source:               source,
		}
		if releaseName != "" {
			req.Release = &rcm.ReleaseRequest{
				ReleaseName:       releaseName,
				SoftwareTitleName: titleName,
			}
		}

		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Import(req)
		if err != nil {
			return err
		}

		if result.FileSet == nil {
			fmt.Println("Nothing to import.")
			return nil
		}
		fmt.Printf("Imported into set #%d %q: %d new, %d already present\n",
			result.FileSet.ID, result.FileSet.Name, len(result.Created), len(result.Existing))
		for sha, roms := range result.Matches {
			for _, rom := range roms {
				fmt.Printf("  matched %s -> %s\n", sha[:12], rom.Name)
			}
		}
		if result.Release != nil {
			fmt.Printf("Created release #%d %q\n", result.Release.ID, result.Release.Name)
		}
		for step, stepErr := range result.StepErrors {
			fmt.Printf("warning: %s: %v\n", step, stepErr)
		}
		return nil
	},
}

// sets command
var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "Manage file sets",
}

var setsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List file sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("type")

		a, err := newApp("ListFileSets")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.Service().ListFileSets(model.FileType(fileType))
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			fmt.Println("No file sets.")
			return nil
		}
		for _, fs := range sets {
			fmt.Printf("#%d  %-14s  %s\n", fs.ID, fs.FileType, fs.Name)
		}
		return nil
	},
}

var setsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a file set and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("ShowFileSet")
		if err != nil {
			return err
		}
		defer a.Close()

		members, err := a.Service().FileSetMembers(id)
		if err != nil {
			return err
		}
		for _, m := range members {
			info, err := a.Service().FileInfo(m.FileInfoID)
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Printf("%3d  %-40s  (missing file info %d)\n", m.Position, m.MemberName, m.FileInfoID)
				continue
			}
			fmt.Printf("%3d  %-40s  %s  %d\n",
				m.Position, m.MemberName, hex.EncodeToString(info.SHA1), info.Size)
		}
		return nil
	},
}

var setsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a file set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("DeleteFileSet")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.DeleteFileSet(id)
		if err != nil {
			return err
		}

		deleted := 0
		for _, cand := range result.Candidates {
			if cand.RowRemoved {
				deleted++
			}
		}
		fmt.Printf("Set removed; %d of %d file(s) deleted\n", deleted, len(result.Candidates))
		for _, err := range result.Errs() {
			fmt.Printf("warning: %v\n", err)
		}
		return nil
	},
}

var setsUpdateCmd = &cobra.Command{
	Use:   "update ID [SOURCE...]",
	Short: "Replace a set's membership with the given selection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		selectHexes, _ := cmd.Flags().GetStringArray("select")
		namePairs, _ := cmd.Flags().GetStringArray("member-name")
		systemIDs, _ := cmd.Flags().GetInt64Slice("system")

		selected, err := parseChecksums(selectHexes)
		if err != nil {
			return err
		}
		memberNames, err := parseMemberNames(namePairs)
		if err != nil {
			return err
		}

		a, err := newApp("UpdateFileSet")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.UpdateFileSet(&rcm.UpdateFileSetRequest{
			FileSetID:         id,
			SourcePaths:       args[1:],
			SelectedChecksums: selected,
			MemberNames:       memberNames,
			SystemIDs:         systemIDs,
		})
		if err != nil {
			return err
		}

		added, removed := 0, 0
		if result.Imported != nil {
			added = len(result.Imported.Created) + len(result.Imported.Existing)
		}
		if result.Removed != nil {
			removed = len(result.Removed.Candidates)
		}
		fmt.Printf("Set updated: %d member(s) added, %d removed\n", added, removed)
		return nil
	},
}

// release command
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Manage releases",
}

var releaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListReleases")
		if err != nil {
			return err
		}
		defer a.Close()

		releases, err := a.Service().ListReleases()
		if err != nil {
			return err
		}
		if len(releases) == 0 {
			fmt.Println("No releases.")
			return nil
		}
		for _, r := range releases {
			fmt.Printf("#%d  %s  %s\n", r.ID, r.CreatedAt.Format("2006-01-02"), r.Name)
		}
		return nil
	},
}

var releaseCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		fileSetIDs, _ := cmd.Flags().GetInt64Slice("set")
		systemIDs, _ := cmd.Flags().GetInt64Slice("system")

		if title == "" {
			return fmt.Errorf("--title is required")
		}

		a, err := newApp("CreateRelease")
		if err != nil {
			return err
		}
		defer a.Close()

		release, err := a.Service().CreateRelease(args[0], title, fileSetIDs, systemIDs)
		if err != nil {
			return err
		}
		fmt.Printf("#%d  %s\n", release.ID, release.Name)
		return nil
	},
}

var releaseDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("DeleteRelease")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteRelease(id); err != nil {
			return err
		}
		fmt.Println("Release deleted.")
		return nil
	},
}

var releaseAddItemCmd = &cobra.Command{
	Use:   "add-item RELEASE_ID TYPE DESCRIPTION",
	Short: "Attach an item to a release",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("AddReleaseItem")
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.Service().AddReleaseItem(id, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("#%d  %s  %s\n", item.ID, item.ItemType, item.Description)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replicate pending files to the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		verify, _ := cmd.Flags().GetBool("verify")

		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if verify {
			missing, err := a.VerifyCloud(ctx)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				fmt.Println("All uploaded files are present in the bucket.")
				return nil
			}
			for _, key := range missing {
				fmt.Printf("missing: %s\n", key)
			}
			return fmt.Errorf("%d uploaded file(s) missing from the bucket", len(missing))
		}

		events := make(chan rcm.SyncEvent, 64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			renderSyncEvents(events)
		}()

		summary, err := a.Sync(ctx, events)
		close(events)
		<-done

		if err != nil && !errors.Is(err, rcm.ErrCancelled) {
			return err
		}
		fmt.Printf("Sync finished: %d uploaded, %d failed, %d deleted, %d delete failures\n",
			summary.UploadedOK, summary.UploadFailed, summary.DeletedOK, summary.DeleteFailed)
		if errors.Is(err, rcm.ErrCancelled) {
			fmt.Println("Sync was cancelled; remaining files stay pending.")
		}
		return nil
	},
}

// renderSyncEvents drives a terminal progress bar from the engine's event
// stream.
func renderSyncEvents(events <-chan rcm.SyncEvent) {
	var bar *progressbar.ProgressBar
	for ev := range events {
		switch e := ev.(type) {
		case rcm.SyncStarted:
			bar = progressbar.NewOptions(e.Total,
				progressbar.OptionSetDescription("syncing"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		case rcm.FileUploadStarted:
			if bar != nil {
				bar.Describe(e.Key)
			}
		case rcm.FileUploadCompleted, rcm.FileUploadFailed,
			rcm.FileDeletionCompleted, rcm.FileDeletionFailed:
			if bar != nil {
				bar.Add(1)
			}
		case rcm.SyncCompleted, rcm.SyncCancelled:
			if bar != nil {
				bar.Finish()
			}
		}
	}
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarise the collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status()
		if err != nil {
			return err
		}
		fmt.Printf("Files:             %d\n", st.FileInfos)
		fmt.Printf("File sets:         %d\n", st.FileSets)
		fmt.Printf("Releases:          %d\n", st.Releases)
		fmt.Printf("Pending uploads:   %d\n", st.PendingUploads)
		fmt.Printf("Pending deletions: %d\n", st.PendingDeletions)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history FILE_INFO_ID",
	Short: "View a file's replication journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp("SyncHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.SyncHistory(id)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No sync history.")
			return nil
		}
		for _, e := range entries {
			msg := ""
			if e.Message != "" {
				msg = "  " + e.Message
			}
			fmt.Printf("#%d  %s  %-22s  %s%s\n",
				e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Status, e.CloudKey, msg)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCredentialsCmd)

	// system subcommands
	systemCmd.AddCommand(systemAddCmd)
	systemCmd.AddCommand(systemListCmd)

	// import flags
	importCmd.Flags().String("type", "", "File type (rom, diskimage, tapeimage, memorysnapshot, document)")
	importCmd.Flags().String("set-name", "", "Name of the file set to create")
	importCmd.Flags().String("canonical-name", "", "Filename-safe name for exports")
	importCmd.Flags().String("source", "", "Provenance of the files, typically a URL")
	importCmd.Flags().Int64Slice("system", nil, "System ID to tag files with (repeatable)")
	importCmd.Flags().StringArray("select", nil, "SHA-1 of a file to import (repeatable; default all)")
	importCmd.Flags().StringArray("member-name", nil, "Member name override as sha1=name (repeatable)")
	importCmd.Flags().String("release", "", "Also create a release with this name")
	importCmd.Flags().String("title", "", "Software title for the release")
	importCmd.MarkFlagRequired("type")
	importCmd.MarkFlagRequired("set-name")

	// sets subcommands
	setsCmd.AddCommand(setsListCmd)
	setsListCmd.Flags().String("type", "", "Filter by file type")
	setsCmd.AddCommand(setsShowCmd)
	setsCmd.AddCommand(setsDeleteCmd)
	setsCmd.AddCommand(setsUpdateCmd)
	setsUpdateCmd.Flags().StringArray("select", nil, "SHA-1 of a desired member (repeatable)")
	setsUpdateCmd.Flags().StringArray("member-name", nil, "Member name override as sha1=name (repeatable)")
	setsUpdateCmd.Flags().Int64Slice("system", nil, "System ID to tag new files with (repeatable)")

	// release subcommands
	releaseCmd.AddCommand(releaseListCmd)
	releaseCmd.AddCommand(releaseCreateCmd)
	releaseCreateCmd.Flags().String("title", "", "Software title name")
	releaseCreateCmd.Flags().Int64Slice("set", nil, "File set ID to link (repeatable)")
	releaseCreateCmd.Flags().Int64Slice("system", nil, "System ID to link (repeatable)")
	releaseCmd.AddCommand(releaseDeleteCmd)
	releaseCmd.AddCommand(releaseAddItemCmd)

	// sync flags
	syncCmd.Flags().Bool("verify", false, "Verify uploaded files instead of syncing")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(systemCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(setsCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}
