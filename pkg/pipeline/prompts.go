package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/proculyze/analyzer/pkg/models"
)

// aggregationSystemPrompt instructs the model to merge every document's
// per-document extraction into one coherent report, grounded on the
// original implementation's aggregation.py prompt (translated rules, same
// priority order and dedup instruction).
const aggregationSystemPrompt = `Tu esi viešųjų pirkimų ekspertas. Tau pateikti extraction rezultatai ` +
	`iš kelių pirkimo dokumentų. Tavo užduotis — sujungti juos į vieną pilną, nuoseklią ataskaitą.

Taisyklės:
- Jei informacija kartojasi keliuose dokumentuose — deduplikuok, palik tiksliausią versiją
- Jei informacija prieštarauja — pažymėk confidence_notes su abiem versijomis ir nurodyk šaltinius
- Prioritetizavimas (nuo aukščiausio): technical_spec > contract > invitation > annex
- requirements turi būti išsamus sąrašas iš VISŲ dokumentų, ne tik vieno
- source_references turi apimti VISUS analizuotus dokumentus
- summary turi apibūdinti visą pirkimą, ne vieną dokumentą
- Nerašyk "pagal dokumentą X..." — rašyk tiesiogiai faktus
- Atsakyk TIK JSON formatu, atitinkančiu nurodytą schemą`

// aggregationUserPrompt renders the per-document extraction results as the
// aggregation stage's user message.
func aggregationUserPrompt(facts []*models.ExtractionFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iš viso analizuoti %d dokumentai.\n\n", len(facts))
	for i, f := range facts {
		raw, _ := json.MarshalIndent(f, "", "  ")
		fmt.Fprintf(&b, "Dokumentas %d rezultatas:\n%s\n\n", i+1, raw)
	}
	b.WriteString("Sujunk į vieną galutinę ataskaitą pagal nurodytą JSON schemą.")
	return b.String()
}

// evaluationSystemPrompt instructs the model to score a merged report's
// completeness, grounded on the original implementation's evaluation.py.
const evaluationSystemPrompt = `Tu esi viešųjų pirkimų ataskaitų kokybės auditorius. ` +
	`Tavo užduotis — įvertinti galutinės ataskaitos pilnumą ir nuoseklumą.

Vertink pagal šiuos kriterijus:
1. Ar užpildyti visi svarbūs laukai? (title, summary, value, organization, deadlines, requirements, qualifications, evaluation_criteria)
2. Ar nėra prieštaravimų tarp laukų?
3. Ar sumos ir datos atrodo logiškos?
4. Ar qualifications pakankamai detalūs?
5. Ar evaluation_criteria svoriai sudaro 100%?

completeness_score: 1.0 = viskas puikiai užpildyta, 0.0 = nieko nėra.
Būk griežtas — 0.8+ reiškia labai gerą ataskaitą. Atsakyk TIK JSON formatu, atitinkančiu nurodytą schemą.`

// evaluationUserPrompt renders the merged report as the evaluation
// stage's user message.
func evaluationUserPrompt(report *models.ExtractionFacts, documentNames []string) string {
	raw, _ := json.MarshalIndent(report, "", "  ")
	return fmt.Sprintf("Galutinė ataskaita:\n%s\n\nAnalizuotų dokumentų sąrašas:\n%s\n\nĮvertink ataskaitos kokybę pagal nurodytą JSON schemą.",
		raw, strings.Join(documentNames, ", "))
}

// chatSystemPrompt builds the post-analysis chat system prompt from the
// completed analysis's merged report and every parsed document's content,
// grounded directly on the original chat.py's CHAT_SYSTEM construction.
func chatSystemPrompt(report *models.ExtractionFacts, documents []models.Document) string {
	reportJSON, _ := json.MarshalIndent(report, "", "  ")

	var docsBuilder strings.Builder
	for i, d := range documents {
		if i > 0 {
			docsBuilder.WriteString("\n\n")
		}
		fmt.Fprintf(&docsBuilder, "### %s (%d psl.)\n%s\n---", d.Filename, d.PageCount, d.Content)
	}

	return fmt.Sprintf(`Tu esi viešųjų pirkimų dokumentų analizės asistentas. Atsakyk į klausimus apie `+
		`žemiau pateiktą ataskaitą ir dokumentus. Cituok šaltinio dokumentą, kai įmanoma.

Galutinė ataskaita:
%s

Analizuoti dokumentai:
%s`, reportJSON, docsBuilder.String())
}
