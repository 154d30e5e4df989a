package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/verte-zerg/heartica/internal/model"
)

// DatasetVariable is the R symbol the analysis script reads its input from.
const DatasetVariable = "heartRateData"

const outputMarker = "@@heartica"

// OutputNames are the R symbols the analysis script must populate.
var OutputNames = [4]string{"hr1", "hr2", "hr3", "hr4"}

// rString quotes s as an R string literal. R treats backslash as an escape
// character, so Windows-style paths need doubling.
func rString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func installProgram(cfg Config) string {
	return fmt.Sprintf("install.packages(%s, repos = %s, lib = %s)\n",
		rString(cfg.Package), rString(cfg.Repo), rString(cfg.LibDir))
}

func loadLines(cfg Config) []string {
	return []string{
		fmt.Sprintf("setwd(%s)", rString(cfg.WorkDir)),
		fmt.Sprintf("suppressPackageStartupMessages(library(%s, lib.loc = %s))", cfg.Package, rString(cfg.LibDir)),
	}
}

func verifyProgram(cfg Config) string {
	lines := loadLines(cfg)
	lines = append(lines, fmt.Sprintf(`cat(%s, "ready\n")`, rString(outputMarker)))
	return strings.Join(lines, "\n") + "\n"
}

func decomposeProgram(cfg Config, datasetPath string) string {
	lines := loadLines(cfg)
	lines = append(lines,
		fmt.Sprintf(`%s <- read.csv(%s, sep = ",", dec = ".")`, DatasetVariable, rString(datasetPath)),
		fmt.Sprintf("source(%s)", rString(cfg.Script)),
		fmt.Sprintf(`for (.name in c(%s)) {`, quotedOutputNames()),
		`  if (!exists(.name)) next`,
		`  .value <- suppressWarnings(as.numeric(get(.name)))`,
		`  if (length(.value) == 0 || is.na(.value[1])) next`,
		fmt.Sprintf(`  cat(%s, " ", .name, " ", format(.value[1], digits = 17), "\n", sep = "")`, rString(outputMarker)),
		`}`,
	)
	return strings.Join(lines, "\n") + "\n"
}

func quotedOutputNames() string {
	quoted := make([]string, len(OutputNames))
	for i, name := range OutputNames {
		quoted[i] = rString(name)
	}
	return strings.Join(quoted, ", ")
}

func hasReadyMarker(out []byte) bool {
	for line := range strings.Lines(string(out)) {
		if strings.TrimSpace(line) == outputMarker+" ready" {
			return true
		}
	}
	return false
}

// parseOutputs reads the marker lines emitted by decomposeProgram. Any other
// output of the analysis script is ignored, however long its lines are.
func parseOutputs(out []byte) (model.Decomposition, error) {
	values := make(map[string]float64, len(OutputNames))
	for line := range strings.Lines(string(out)) {
		if !strings.HasPrefix(line, outputMarker) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != outputMarker {
			continue
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return model.Decomposition{}, fmt.Errorf("invalid value for %s: %q", fields[1], fields[2])
		}
		if _, seen := values[fields[1]]; !seen {
			values[fields[1]] = v
		}
	}

	var result [4]float64
	for i, name := range OutputNames {
		v, ok := values[name]
		if !ok {
			return model.Decomposition{}, &MissingOutputError{Name: name}
		}
		result[i] = v
	}
	return model.Decomposition{HR1: result[0], HR2: result[1], HR3: result[2], HR4: result[3]}, nil
}
