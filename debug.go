// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"flag"
	"fmt"
	"sync"

	"github.com/protdiff/protdiff/internal/model"
)

var debugProteins *string // Print debug output for given protein index range

// Proteins for which no model could be fitted
var noModelProteins []string
var noModelMux sync.Mutex

func init() {
	debugProteins = flag.String("debug", "",
		"Print fit debug output for given protein index `range` e.g. 3:6")
}

func debugLogFit(g int, numProteins int, proteinID string, fit *model.Fit) {
	if *debugProteins != `` {
		debugMin, debugMax, _ := parseIntRange(*debugProteins, 0, numProteins)
		if g >= debugMin && g <= debugMax {
			if fit == nil {
				fmt.Printf("Protein %d %s: no model\n", g, proteinID)
				return
			}
			fmt.Printf("Protein %d %s: n=%d df=%.2f sigma2=%e lambda=%g\n",
				g, proteinID, fit.NObs, fit.DF, fit.Sigma2, fit.Lambda)
			for i, name := range fit.Names {
				fmt.Printf("  %s = %f\n", name, fit.Beta[i])
			}
		}
	}
}

func debugRegisterNoModel(proteinID string) {
	noModelMux.Lock()
	noModelProteins = append(noModelProteins, proteinID)
	noModelMux.Unlock()
}

func debugListNoModel() {
	if *debugProteins != `` {
		noModelMux.Lock()
		if len(noModelProteins) > 0 {
			fmt.Printf("Proteins without model\n")
			for _, id := range noModelProteins {
				fmt.Printf("%s\n", id)
			}
		}
		noModelMux.Unlock()
	}
}
