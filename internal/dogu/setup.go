package dogu

import (
	"context"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// runSetup is the first-run flow: detect everything, let the user pick
// tools from a checklist, then hand the selection to the batch installer.
// Tools that are not installed anywhere start pre-checked.
func runSetup(ctx context.Context, catalog []Installer, ic *InstallContext) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		cPrintln(colNote, "Setup needs a terminal. Install tools directly with \"dogu install <tool>\".")
		return nil
	}

	colArrow.Print("-> ")
	cPrintln(colInfo, "Detecting installed tools")
	results := detectAll(ctx, catalog, ic.Ledger)

	selected, ok, err := pickTools(catalog, results)
	if err != nil {
		return err
	}
	if !ok || len(selected) == 0 {
		cPrintln(colInfo, "Nothing selected; setup finished.")
		return nil
	}

	defer markCritical()()
	return installMany(ctx, catalog, ic, selected)
}

// setupStateLabel tags each checklist row with what detection found.
func setupStateLabel(res DetectionResult) string {
	switch res.State {
	case StateManaged:
		return fmt.Sprintf("[green]managed %s[-]", res.Version)
	case StateExternal:
		ver := res.Version
		if ver == "" {
			ver = "unknown"
		}
		return fmt.Sprintf("[yellow]external %s[-]", ver)
	default:
		return "[gray]not installed[-]"
	}
}

// pickTools renders the catalog checklist. Space toggles, Enter confirms,
// q or Esc aborts. The returned slice holds the checked tool ids in
// catalog order; ok is false when the user aborted.
func pickTools(catalog []Installer, results []DetectionResult) ([]string, bool, error) {
	checked := make([]bool, len(catalog))
	for i, res := range results {
		checked[i] = res.State == StateNotInstalled
	}

	app := tview.NewApplication()
	list := tview.NewList().
		ShowSecondaryText(true).
		SetHighlightFullLine(true)
	list.SetBorder(true).SetTitle(" dogu setup — select tools to install ")

	rowText := func(i int) string {
		mark := "[ ]"
		if checked[i] {
			mark = "[x]"
		}
		return fmt.Sprintf("%s %s — %s", mark, catalog[i].Info().DisplayName, setupStateLabel(results[i]))
	}
	for i, tool := range catalog {
		list.AddItem(rowText(i), "    "+tool.Info().Description, 0, nil)
	}

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Space: toggle   Enter: install selected   q/Esc: quit[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(list, 0, 1, true).
		AddItem(footer, 1, 0, false)

	confirmed := false
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			app.Stop()
			return nil
		case tcell.KeyEnter:
			confirmed = true
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case ' ':
				i := list.GetCurrentItem()
				checked[i] = !checked[i]
				list.SetItemText(i, rowText(i), "    "+catalog[i].Info().Description)
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(list).Run(); err != nil {
		return nil, false, fmt.Errorf("setup screen failed: %w", err)
	}
	if !confirmed {
		return nil, false, nil
	}

	var ids []string
	for i, tool := range catalog {
		if checked[i] {
			ids = append(ids, tool.Info().ID)
		}
	}
	return ids, true, nil
}
