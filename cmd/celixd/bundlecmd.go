package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install [location]",
	Short: "Install the earpm bundle",
	Long: `Install installs the built-in earpm bundle without starting it.
location defaults to the bundle's own well-known location; no
manifest/archive resolution is supported for arbitrary locations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

var startBundleCmd = &cobra.Command{
	Use:   "start-bundle [location]",
	Short: "Install (if needed) and start the earpm bundle",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStartBundle,
}

var stopBundleCmd = &cobra.Command{
	Use:   "stop-bundle [location]",
	Short: "Start then stop the earpm bundle",
	Long: `Stop-bundle starts the bundle and immediately stops it again: bundle
state is not persisted across process runs (no-goal), so a bundle
started by an earlier celixd invocation no longer exists for this one
to stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStopBundle,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [location]",
	Short: "Uninstall the earpm bundle",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUninstall,
}

var listBundlesCmd = &cobra.Command{
	Use:   "list-bundles",
	Short: "List installed bundles",
	RunE:  runListBundles,
}

func bundleLocation(args []string) (string, error) {
	if len(args) == 0 {
		return earpmBundleLocation, nil
	}
	if args[0] != earpmBundleLocation {
		return "", fmt.Errorf("unknown bundle location %q: only %q is installable", args[0], earpmBundleLocation)
	}
	return earpmBundleLocation, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	loc, err := bundleLocation(args)
	if err != nil {
		return err
	}
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}
	defer booted.close()

	id, err := booted.fw.InstallBundle(loc, false)
	if err != nil {
		return err
	}
	fmt.Printf("installed bundle %d at %s\n", id, loc)
	return nil
}

func runStartBundle(cmd *cobra.Command, args []string) error {
	if _, err := bundleLocation(args); err != nil {
		return err
	}
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}
	defer booted.close()

	id, err := resolveBundleID(booted)
	if err != nil {
		return err
	}
	if err := booted.fw.StartBundle(id); err != nil {
		return err
	}
	fmt.Printf("started bundle %d\n", id)
	return nil
}

func runStopBundle(cmd *cobra.Command, args []string) error {
	if _, err := bundleLocation(args); err != nil {
		return err
	}
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}
	defer booted.close()

	id, err := resolveBundleID(booted)
	if err != nil {
		return err
	}
	if err := booted.fw.StartBundle(id); err != nil {
		return err
	}
	if err := booted.fw.StopBundle(id); err != nil {
		return err
	}
	fmt.Printf("stopped bundle %d\n", id)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if _, err := bundleLocation(args); err != nil {
		return err
	}
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}
	defer booted.close()

	id, err := resolveBundleID(booted)
	if err != nil {
		return err
	}
	if _, err := booted.fw.UninstallBundle(id); err != nil {
		return err
	}
	fmt.Printf("uninstalled bundle %d\n", id)
	return nil
}

func runListBundles(cmd *cobra.Command, args []string) error {
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}
	defer booted.close()

	for _, b := range booted.fw.ListBundles() {
		fmt.Printf("%d\t%s\t%s\n", b.ID, b.State, b.Location)
	}
	return nil
}
