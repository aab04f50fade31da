// Command planforge converts 2D floorplan images into 3D scene files.
// It provides commands for running conversions, managing the Blender
// installation it drives, browsing run history, and serving the HTTP API.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/planforge/planforge/core/analysis"
	"github.com/planforge/planforge/core/blender"
	"github.com/planforge/planforge/core/pipeline"
	"github.com/planforge/planforge/core/task"
	"github.com/planforge/planforge/internal/api"
	"github.com/planforge/planforge/internal/history"
	"github.com/planforge/planforge/internal/logging"
	"github.com/planforge/planforge/internal/toolconfig"
	"github.com/planforge/planforge/internal/validation"
)

const version = "0.1.0"

// CLI defines the command-line interface for planforge.
var CLI struct {
	// Global flags
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" enum:"debug,info,warn,error" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" enum:"text,json" default:"text"`
	ConfigDir string `name:"config-dir" help:"Configuration directory (default: per-user config dir)" type:"path"`

	Convert ConvertCmd   `cmd:"" help:"Convert a floorplan image into a 3D scene file"`
	Blender BlenderGroup `cmd:"" help:"Blender installation management"`
	Open    OpenCmd      `cmd:"" help:"Open the newest generated scene in Blender"`
	History HistoryGroup `cmd:"" help:"Conversion run history"`
	Serve   ServeCmd     `cmd:"" help:"Start the HTTP API server"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

// BlenderGroup contains Blender installation operations.
type BlenderGroup struct {
	Locate     BlenderLocateCmd     `cmd:"" help:"Show which Blender executable would be used"`
	Verify     BlenderVerifyCmd     `cmd:"" help:"Probe a Blender executable"`
	Use        BlenderUseCmd        `cmd:"" help:"Verify and remember a Blender executable"`
	Clear      BlenderClearCmd      `cmd:"" help:"Forget the remembered Blender executable"`
	Candidates BlenderCandidatesCmd `cmd:"" help:"Replace the candidate install locations"`
}

// HistoryGroup contains run history operations.
type HistoryGroup struct {
	List HistoryListCmd `cmd:"" help:"List recent conversion runs"`
	Show HistoryShowCmd `cmd:"" help:"Show one run, optionally with its build transcript"`
}

// configStore resolves the tool configuration directory.
func configStore() *toolconfig.Store {
	dir := CLI.ConfigDir
	if dir == "" {
		dir = toolconfig.DefaultDir()
	}
	return toolconfig.NewStore(dir)
}

// newLocator builds a locator from persisted configuration.
func newLocator(store *toolconfig.Store) *blender.Locator {
	return &blender.Locator{
		Cached:     store.LoadToolPath(),
		Candidates: store.LoadCandidates(),
		LookupName: blender.ExecutableName(),
	}
}

// PipelineFlags are the conversion knobs shared by convert and serve.
type PipelineFlags struct {
	OutputDir      string        `help:"Directory that receives generated scenes" default:"target" type:"path"`
	Script         string        `name:"script" help:"Blender automation script driven during the build" default:"scripts/floorplan_to_3d.py" type:"path"`
	Analyzer       string        `help:"Floorplan analysis executable" default:"python3"`
	AnalyzerScript string        `name:"analyzer-script" help:"Floorplan analysis script" default:"scripts/analyze_floorplan.py"`
	AnalysisConfig string        `name:"analysis-config" help:"Analysis configuration file" default:"${analysis_config}"`
	BuildTimeout   time.Duration `name:"build-timeout" help:"Bound on the scene build (0 uses the default, negative disables)" default:"0s"`
}

// buildPipeline assembles the conversion pipeline from flags and the
// persisted tool configuration.
func (f *PipelineFlags) buildPipeline(store *toolconfig.Store) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Analyzer: &analysis.CommandAnalyzer{
			Executable: f.Analyzer,
			Args:       []string{f.AnalyzerScript},
		},
		Locator: newLocator(store),
		Verifier: &blender.Verifier{
			ScriptPath: f.Script,
			Timeout:    blender.DefaultVerifyTimeout,
		},
		OutputDir:    f.OutputDir,
		BuildTimeout: f.BuildTimeout,
	}
}

// ConvertCmd converts a floorplan image into a 3D scene file.
type ConvertCmd struct {
	Image string `arg:"" help:"Floorplan image (.png, .jpg, .jpeg)" type:"path"`

	PipelineFlags `embed:""`

	Tool   string `help:"Blender executable to use for this run" type:"path"`
	Open   bool   `help:"Open the generated scene in Blender on success"`
	NoSave bool   `name:"no-save" help:"Do not record this run in history"`
}

func (c *ConvertCmd) Run() error {
	if err := validation.ValidateSourceImage(c.Image); err != nil {
		return err
	}
	if err := validation.ValidateOutputDir(c.OutputDir); err != nil {
		return err
	}

	store := configStore()
	p := c.buildPipeline(store)

	runner := task.NewRunner(p)
	t, err := runner.Start(context.Background(), pipeline.Request{
		SourceImagePath:  c.Image,
		ToolPathOverride: c.Tool,
		ConfigPath:       c.AnalysisConfig,
	})
	if err != nil {
		return err
	}

	for ev := range t.Events() {
		fmt.Println(ev.Message)
	}
	<-t.Done()
	result := t.Result()

	if !c.NoSave {
		if err := recordRun(store.Dir(), t.ID, c.Image, c.Tool, c.AnalysisConfig, result); err != nil {
			logging.Warn("failed to record run", "error", err)
		}
	}

	if !result.Succeeded() {
		return fmt.Errorf("%s: %s", result.Failure.Kind, result.Failure.Message)
	}

	if c.Open {
		if err := blender.Open(result.ToolPath, result.OutputPath); err != nil {
			return fmt.Errorf("scene generated but could not be opened: %w", err)
		}
	}
	return nil
}

// recordRun persists a completed run without holding the store open
// longer than the insert.
func recordRun(dir, id, image, tool, configPath string, result *pipeline.Result) error {
	store, err := history.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	req := pipeline.Request{
		SourceImagePath:  image,
		ToolPathOverride: tool,
		ConfigPath:       configPath,
	}
	_, err = store.RecordRun(id, req, result)
	return err
}

// BlenderLocateCmd shows which Blender executable would be used.
type BlenderLocateCmd struct{}

func (c *BlenderLocateCmd) Run() error {
	store := configStore()
	loc := newLocator(store).Locate("")
	if loc == nil {
		return fmt.Errorf("no Blender executable found; install Blender or run 'planforge blender use <path>'")
	}
	fmt.Printf("Executable: %s\n", loc.ExecutablePath)
	fmt.Printf("  Source: %s\n", loc.Source)
	return nil
}

// BlenderVerifyCmd probes a Blender executable.
type BlenderVerifyCmd struct {
	Path   string `arg:"" optional:"" help:"Executable to verify (default: the located one)" type:"path"`
	Script string `help:"Blender automation script that must exist" default:"scripts/floorplan_to_3d.py" type:"path"`
}

func (c *BlenderVerifyCmd) Run() error {
	path := c.Path
	if path == "" {
		loc := newLocator(configStore()).Locate("")
		if loc == nil {
			return fmt.Errorf("no Blender executable found to verify")
		}
		path = loc.ExecutablePath
	}

	v := &blender.Verifier{ScriptPath: c.Script, Timeout: blender.DefaultVerifyTimeout}
	if err := v.Verify(context.Background(), path); err != nil {
		return err
	}
	fmt.Printf("OK: %s\n", path)
	return nil
}

// BlenderUseCmd verifies and remembers a Blender executable.
type BlenderUseCmd struct {
	Path   string `arg:"" help:"Executable to use for future conversions" type:"existingfile"`
	Script string `help:"Blender automation script that must exist" default:"scripts/floorplan_to_3d.py" type:"path"`
}

func (c *BlenderUseCmd) Run() error {
	v := &blender.Verifier{ScriptPath: c.Script, Timeout: blender.DefaultVerifyTimeout}
	if err := v.Verify(context.Background(), c.Path); err != nil {
		return err
	}

	store := configStore()
	if err := store.SaveToolPath(c.Path); err != nil {
		return fmt.Errorf("failed to persist tool path: %w", err)
	}
	fmt.Printf("Using: %s\n", c.Path)
	return nil
}

// BlenderClearCmd forgets the remembered Blender executable.
type BlenderClearCmd struct{}

func (c *BlenderClearCmd) Run() error {
	if err := configStore().ClearToolPath(); err != nil {
		return err
	}
	fmt.Println("Cleared.")
	return nil
}

// BlenderCandidatesCmd replaces the candidate install locations probed
// during tool resolution.
type BlenderCandidatesCmd struct {
	Paths []string `arg:"" help:"Install locations to probe, in order" type:"path"`
}

func (c *BlenderCandidatesCmd) Run() error {
	if err := configStore().SaveCandidates(c.Paths); err != nil {
		return err
	}
	fmt.Printf("Saved %d candidate locations.\n", len(c.Paths))
	return nil
}

// OpenCmd opens a generated scene in Blender. With no argument it picks
// the newest scene in the output directory.
type OpenCmd struct {
	Path string `arg:"" optional:"" help:"Scene file to open (default: newest in --dir)" type:"path"`
	Dir  string `help:"Directory holding generated scenes" default:"target" type:"path"`
}

func (c *OpenCmd) Run() error {
	artifact := c.Path
	if artifact == "" {
		newest, err := blender.NewestArtifact(c.Dir)
		if err != nil {
			return err
		}
		artifact = newest
	}

	loc := newLocator(configStore()).Locate("")
	if loc == nil {
		return fmt.Errorf("no Blender executable found to open %s", artifact)
	}

	if err := blender.Open(loc.ExecutablePath, artifact); err != nil {
		return err
	}
	fmt.Printf("Opening: %s\n", artifact)
	return nil
}

// HistoryListCmd lists recent conversion runs.
type HistoryListCmd struct {
	Limit int `help:"Maximum number of runs to show" default:"20"`
}

func (c *HistoryListCmd) Run() error {
	store, err := history.Open(configStore().Dir())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(c.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, r := range records {
		status := "ok"
		detail := r.OutputPath
		if !r.Succeeded() {
			status = r.Kind
			detail = r.Message
		}
		fmt.Printf("%s  %s  %-24s  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.ID, status, detail)
	}
	return nil
}

// HistoryShowCmd shows one run, optionally with its build transcript.
type HistoryShowCmd struct {
	ID         string `arg:"" help:"Run ID"`
	Transcript bool   `help:"Include the build transcript"`
}

func (c *HistoryShowCmd) Run() error {
	store, err := history.Open(configStore().Dir())
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", r.ID)
	fmt.Printf("  Source: %s\n", r.SourcePath)
	if r.SourceBLAKE3 != "" {
		fmt.Printf("  BLAKE3: %s\n", r.SourceBLAKE3)
	}
	fmt.Printf("  Created: %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Duration: %s\n", time.Duration(r.DurationMS)*time.Millisecond)
	if r.Succeeded() {
		fmt.Printf("  Output: %s\n", r.OutputPath)
	} else {
		fmt.Printf("  Failed: %s at %s\n", r.Kind, r.Stage)
		fmt.Printf("  Message: %s\n", r.Message)
	}

	// Same-second output names collide; the source hash makes repeat
	// conversions of the same image visible.
	if r.SourceBLAKE3 != "" {
		if n, err := store.CountBySource(r.SourceBLAKE3); err == nil {
			fmt.Printf("  Runs of this source: %d\n", n)
		}
	}

	if c.Transcript {
		transcript, err := store.Transcript(r.ID)
		if err != nil {
			return err
		}
		if transcript == "" {
			fmt.Println("  No transcript recorded.")
		} else {
			fmt.Println()
			fmt.Println(transcript)
		}
	}
	return nil
}

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Addr string `help:"Listen address" default:"127.0.0.1:8080"`

	PipelineFlags `embed:""`

	NoHistory bool `name:"no-history" help:"Do not persist completed runs"`
}

func (c *ServeCmd) Run() error {
	store := configStore()
	p := c.buildPipeline(store)

	var hist *history.Store
	if !c.NoHistory {
		var err error
		hist, err = history.Open(store.Dir())
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer hist.Close()
	}

	server := api.NewServer(task.NewRunner(p), hist)
	return server.ListenAndServe(c.Addr)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("planforge version %s\n", version)
	return nil
}

func initLogging() {
	level := logging.LevelInfo
	switch CLI.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}

	format := logging.FormatText
	if CLI.LogFormat == "json" {
		format = logging.FormatJSON
	}
	logging.InitLogger(level, format)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("planforge"),
		kong.Description("Floorplan image to 3D scene converter"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"analysis_config": analysis.DefaultConfigPath,
		},
	)
	initLogging()
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
