package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/tools/cover"
)

type packageCoverage struct {
	Package      string  `json:"package"`
	Files        int     `json:"files"`
	Statements   int     `json:"statements"`
	Covered      int     `json:"covered_statements"`
	StatementPct float64 `json:"statement_pct"`
}

type report struct {
	GeneratedAtUTC  string            `json:"generated_at_utc"`
	Mode            string            `json:"mode"`
	Packages        []packageCoverage `json:"packages"`
	TotalStatements int               `json:"total_statements"`
	TotalCovered    int               `json:"total_covered_statements"`
	TotalPct        float64           `json:"total_statement_pct"`
}

type packageFloor struct {
	MinStatementPct float64 `json:"min_statement_pct"`
}

type floorFile struct {
	TotalPct float64                 `json:"total_statement_pct"`
	Packages map[string]packageFloor `json:"packages"`
}

func main() {
	var profilePath string
	var outJSON string
	var outCSV string
	var floorPath string
	var enforceFloors bool

	flag.StringVar(&profilePath, "profile", "", "Coverage profile produced by go test -coverprofile")
	flag.StringVar(&outJSON, "out-json", "", "Write report JSON to this file path")
	flag.StringVar(&outCSV, "out-csv", "", "Write report CSV to this file path")
	flag.StringVar(&floorPath, "floor-file", "", "Optional coverage floor JSON file")
	flag.BoolVar(&enforceFloors, "enforce-floors", false, "Fail when coverage drops below a floor")
	flag.Parse()

	if strings.TrimSpace(profilePath) == "" {
		fatalf("profile is required")
	}

	profiles, err := cover.ParseProfiles(profilePath)
	if err != nil {
		fatalf("parse %s: %v", profilePath, err)
	}
	if len(profiles) == 0 {
		fatalf("no coverage data found in %s", profilePath)
	}

	output := buildReport(profiles, time.Now().UTC())

	if outJSON != "" {
		if err := writeJSON(outJSON, output); err != nil {
			fatalf("write json report: %v", err)
		}
	}
	if outCSV != "" {
		if err := writeCSV(outCSV, output); err != nil {
			fatalf("write csv report: %v", err)
		}
	}

	printConsoleSummary(output)

	if floorPath != "" {
		violations, err := checkFloors(floorPath, output)
		if err != nil {
			fatalf("check floors: %v", err)
		}
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "COVERAGE_FLOOR_WARNING: %s\n", violation)
		}
		if enforceFloors && len(violations) > 0 {
			os.Exit(1)
		}
	}
}

func buildReport(profiles []*cover.Profile, now time.Time) report {
	type tally struct {
		files      int
		statements int
		covered    int
	}
	byPackage := make(map[string]*tally)
	mode := ""
	for _, profile := range profiles {
		if mode == "" {
			mode = profile.Mode
		}
		name := path.Dir(profile.FileName)
		entry := byPackage[name]
		if entry == nil {
			entry = &tally{}
			byPackage[name] = entry
		}
		entry.files++
		for _, block := range profile.Blocks {
			entry.statements += block.NumStmt
			if block.Count > 0 {
				entry.covered += block.NumStmt
			}
		}
	}

	packages := make([]packageCoverage, 0, len(byPackage))
	totalStatements := 0
	totalCovered := 0
	for name, entry := range byPackage {
		packages = append(packages, packageCoverage{
			Package:      name,
			Files:        entry.files,
			Statements:   entry.statements,
			Covered:      entry.covered,
			StatementPct: percent(entry.covered, entry.statements),
		})
		totalStatements += entry.statements
		totalCovered += entry.covered
	}
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].StatementPct == packages[j].StatementPct {
			return packages[i].Package < packages[j].Package
		}
		return packages[i].StatementPct < packages[j].StatementPct
	})

	return report{
		GeneratedAtUTC:  now.Format(time.RFC3339),
		Mode:            mode,
		Packages:        packages,
		TotalStatements: totalStatements,
		TotalCovered:    totalCovered,
		TotalPct:        percent(totalCovered, totalStatements),
	}
}

func percent(covered, statements int) float64 {
	if statements == 0 {
		return 0
	}
	return 100 * float64(covered) / float64(statements)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeCSV(path string, output report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"package",
		"files",
		"statements",
		"covered_statements",
		"statement_pct",
	}); err != nil {
		return err
	}

	for _, pkg := range output.Packages {
		if err := writer.Write([]string{
			pkg.Package,
			strconv.Itoa(pkg.Files),
			strconv.Itoa(pkg.Statements),
			strconv.Itoa(pkg.Covered),
			fmt.Sprintf("%.1f", pkg.StatementPct),
		}); err != nil {
			return err
		}
	}
	return nil
}

func printConsoleSummary(output report) {
	fmt.Printf("Coverage report generated at %s (mode %s)\n", output.GeneratedAtUTC, output.Mode)
	for _, pkg := range output.Packages {
		fmt.Printf("- %s: %.1f%% (%d/%d statements, %d files)\n", pkg.Package, pkg.StatementPct, pkg.Covered, pkg.Statements, pkg.Files)
	}
	fmt.Printf("Total statement coverage: %.1f%% (%d/%d)\n", output.TotalPct, output.TotalCovered, output.TotalStatements)
}

func checkFloors(path string, output report) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var floors floorFile
	if err := json.Unmarshal(data, &floors); err != nil {
		return nil, err
	}

	violations := make([]string, 0)
	if floors.TotalPct > 0 && output.TotalPct < floors.TotalPct {
		violations = append(violations, fmt.Sprintf(
			"total statement coverage %.1f%% is below floor %.1f%%",
			output.TotalPct,
			floors.TotalPct,
		))
	}

	byPackage := make(map[string]packageCoverage, len(output.Packages))
	for _, pkg := range output.Packages {
		byPackage[pkg.Package] = pkg
	}
	for name, floor := range floors.Packages {
		if floor.MinStatementPct <= 0 {
			continue
		}
		pkg, ok := byPackage[name]
		if !ok {
			// A floored package missing from the profile means its tests stopped running.
			violations = append(violations, fmt.Sprintf("%s has a coverage floor but no profile data", name))
			continue
		}
		if pkg.StatementPct >= floor.MinStatementPct {
			continue
		}
		violations = append(violations, fmt.Sprintf(
			"%s statement coverage %.1f%% is below floor %.1f%%",
			name,
			pkg.StatementPct,
			floor.MinStatementPct,
		))
	}
	sort.Strings(violations)
	return violations, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
