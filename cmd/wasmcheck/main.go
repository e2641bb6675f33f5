package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-toolkit/component"
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to a wasm module or component")
		list        = flag.Bool("list", false, "List sections and exit")
		interactive = flag.Bool("i", false, "Interactive section browser")
		verbose     = flag.Bool("v", false, "Verbose logging")
		allFeatures = flag.Bool("all-features", false, "Enable every feature proposal")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmcheck -wasm <file.wasm> [-list] [-i] [-all-features]")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			wasm.SetLogger(logger)
			defer logger.Sync()
		}
	}

	if *interactive {
		if err := runInteractive(*wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *list, *allFeatures); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}

func run(wasmFile string, listOnly, allFeatures bool) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if listOnly {
		return listSections(data)
	}

	features := wasm.DefaultFeatures()
	if allFeatures {
		features = wasm.Features{
			MutableGlobal:        true,
			SaturatingFloatToInt: true,
			SignExtension:        true,
			ReferenceTypes:       true,
			MultiValue:           true,
			BulkMemory:           true,
			SIMD:                 true,
			RelaxedSIMD:          true,
			Threads:              true,
			TailCall:             true,
			MultiMemory:          true,
			Exceptions:           true,
			Memory64:             true,
			ExtendedConst:        true,
			ComponentModel:       true,
		}
	}

	var types *wasm.Types
	if isComponent(data) {
		types, err = component.Validate(data)
	} else {
		types, err = wasm.NewValidatorWithFeatures(features).ValidateAll(data)
	}
	if err != nil {
		if offset := errors.OffsetOf(err); offset >= 0 {
			return fmt.Errorf("validation failed at byte %d: %w", offset, err)
		}
		return err
	}

	fmt.Println(okStyle.Render("valid"), dimStyle.Render(wasmFile))
	printSummary(types)
	return nil
}

func isComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	p := wasm.NewParser(data)
	payload, err := p.Next()
	if err != nil {
		return false
	}
	v, ok := payload.(wasm.Version)
	return ok && v.Encoding == wasm.EncodingComponent
}

func printSummary(types *wasm.Types) {
	if info := types.Component(); info != nil {
		fmt.Printf("  component: %d types, %d funcs, %d modules, %d components, %d instances\n",
			info.Types, info.Funcs, info.Modules, info.Components, info.Instances)
		return
	}
	fmt.Printf("  %d types, %d funcs, %d tables, %d memories, %d globals, %d elements\n",
		types.TypeCount(), types.FunctionCount(), types.TableCount(),
		types.MemoryCount(), types.GlobalCount(), types.ElementCount())
}

func listSections(data []byte) error {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	rows, err := collectSections(data)
	if err != nil {
		return err
	}
	for _, row := range rows {
		line := fmt.Sprintf("%s %s", nameStyle.Render(row.name), dimStyle.Render(row.detail))
		if len(line) > width {
			line = line[:width]
		}
		fmt.Println(line)
	}
	return nil
}

type sectionRow struct {
	name   string
	detail string
}

func collectSections(data []byte) ([]sectionRow, error) {
	p := wasm.NewParser(data)
	var rows []sectionRow
	for {
		payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		switch pl := payload.(type) {
		case wasm.Version:
			rows = append(rows, sectionRow{"version", fmt.Sprintf("%d (%s)", pl.Num, pl.Encoding)})
		case wasm.TypeSection:
			rows = append(rows, sectionRow{"type", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.ImportSection:
			rows = append(rows, sectionRow{"import", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.FunctionSection:
			rows = append(rows, sectionRow{"function", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.TableSection:
			rows = append(rows, sectionRow{"table", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.MemorySection:
			rows = append(rows, sectionRow{"memory", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.GlobalSection:
			rows = append(rows, sectionRow{"global", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.ExportSection:
			rows = append(rows, sectionRow{"export", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.StartSection:
			rows = append(rows, sectionRow{"start", fmt.Sprintf("func %d", pl.Func)})
		case wasm.ElementSection:
			rows = append(rows, sectionRow{"element", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.DataCountSection:
			rows = append(rows, sectionRow{"data count", fmt.Sprintf("%d segments", pl.Count)})
		case wasm.CodeSectionStart:
			rows = append(rows, sectionRow{"code", fmt.Sprintf("%d bodies [%d..%d)", pl.Count, pl.Range.Start, pl.Range.End)})
		case wasm.CodeSectionEntry:
			// Bodies are summarized by the code row.
		case wasm.DataSection:
			rows = append(rows, sectionRow{"data", fmt.Sprintf("%d segments [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.TagSection:
			rows = append(rows, sectionRow{"tag", fmt.Sprintf("%d entries [%d..%d)", pl.Reader.Count(), pl.Range.Start, pl.Range.End)})
		case wasm.CustomSection:
			rows = append(rows, sectionRow{"custom", fmt.Sprintf("%q, %d bytes", pl.Name, len(pl.Data))})
		case wasm.ModuleSection:
			rows = append(rows, sectionRow{"core module", fmt.Sprintf("[%d..%d)", pl.Range.Start, pl.Range.End)})
		case wasm.ComponentSection:
			rows = append(rows, sectionRow{"component", fmt.Sprintf("[%d..%d)", pl.Range.Start, pl.Range.End)})
		case wasm.ComponentSectionRaw:
			rows = append(rows, sectionRow{componentSectionName(pl.ID), fmt.Sprintf("[%d..%d)", pl.Range.Start, pl.Range.End)})
		case wasm.UnknownSection:
			rows = append(rows, sectionRow{"unknown", fmt.Sprintf("id %d, %d bytes", pl.ID, len(pl.Contents))})
		case wasm.End:
			return rows, nil
		}
	}
}

func componentSectionName(id byte) string {
	switch id {
	case wasm.ComponentSectionCoreInstance:
		return "core instance"
	case wasm.ComponentSectionCoreType:
		return "core type"
	case wasm.ComponentSectionInstance:
		return "instance"
	case wasm.ComponentSectionAlias:
		return "alias"
	case wasm.ComponentSectionType:
		return "component type"
	case wasm.ComponentSectionCanon:
		return "canon"
	case wasm.ComponentSectionStart:
		return "component start"
	case wasm.ComponentSectionImport:
		return "component import"
	case wasm.ComponentSectionExport:
		return "component export"
	default:
		return fmt.Sprintf("section %d", id)
	}
}
