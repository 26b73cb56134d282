package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/martistream/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collected by the wizard, kept as typed text until the final step.
type answers struct {
	tld         string
	testnet     bool
	bridge      string
	coins       string
	priceType   string
	databaseURL string
	httpAddr    string
	idleSleep   string
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := answers{
		tld:       "com",
		bridge:    "USDT",
		coins:     "BTC,ETH,BNB",
		priceType: config.PriceTypeTicker,
		httpAddr:  ":8080",
		idleSleep: "10ms",
	}
	var confirm bool

	step := func(title string) {
		fmt.Print("\033[H\033[2J") // clear screen
		fmt.Println(headerStyle.Render("MARTISTREAM CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(title))
	}

	step("STEP 1: EXCHANGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("API keys are read from BINANCE_API_KEY and BINANCE_API_SECRET.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Binance domain").
				Options(
					huh.NewOption("binance.com", "com"),
					huh.NewOption("binance.us", "us"),
				).
				Value(&a.tld),
			huh.NewConfirm().
				Title("Use the spot testnet?").
				Value(&a.testnet),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: COINS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge asset").
				Description("Quote asset every coin is traded against (e.g. USDT)").
				Value(&a.bridge).
				Validate(validateAsset),
			huh.NewInput().
				Title("Coins").
				Description("Comma separated, seeds the coins table when a database url is set").
				Value(&a.coins).
				Validate(validateCoins),
			huh.NewInput().
				Title("Database URL").
				Description("Optional postgres dsn with the coins table").
				Value(&a.databaseURL),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: PRICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price source").
				Options(
					huh.NewOption("Last trade (mini ticker)", config.PriceTypeTicker),
					huh.NewOption("Best bid/ask (book ticker)", config.PriceTypeOrderbook),
				).
				Value(&a.priceType),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: RUNTIME")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Status API address").
				Description("Empty disables the status api").
				Value(&a.httpAddr),
			huh.NewInput().
				Title("Idle sleep").
				Description("Dispatch loop pause when no events are queued (e.g. 10ms)").
				Value(&a.idleSleep).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return err
	}

	tmp, err := a.config()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary(tmp)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := config.Save(path, tmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting stream manager...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func (a answers) config() (config.ConfigTmp, error) {
	idleSleep, err := time.ParseDuration(a.idleSleep)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "invalid idle sleep")
	}

	tmp := config.ConfigTmp{
		TLD:         a.tld,
		Testnet:     a.testnet,
		Bridge:      strings.ToUpper(strings.TrimSpace(a.bridge)),
		PriceType:   a.priceType,
		DatabaseURL: strings.TrimSpace(a.databaseURL),
		HTTPAddr:    strings.TrimSpace(a.httpAddr),
		IdleSleep:   idleSleep,
	}
	tmp.Coins = parseCoins(a.coins)

	return tmp, nil
}

func summary(c config.ConfigTmp) string {
	coins := strings.Join(c.Coins, ", ")
	if c.DatabaseURL != "" {
		coins = "from database, seeded with " + coins
	}
	return fmt.Sprintf(
		"Exchange: binance.%s (testnet: %t)\nBridge: %s\nCoins: %s\nPrices: %s\nStatus API: %s\n",
		c.TLD, c.Testnet, c.Bridge, coins, c.PriceType, c.HTTPAddr,
	)
}

func parseCoins(s string) []string {
	var coins []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			coins = append(coins, c)
		}
	}
	return coins
}

func validateAsset(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("asset cannot be empty")
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return errors.Errorf("invalid asset %q: letters and digits only", s)
		}
	}
	return nil
}

func validateCoins(s string) error {
	for _, c := range strings.Split(s, ",") {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if err := validateAsset(c); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
