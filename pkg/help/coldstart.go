package help

const ColdstartYAML = `# kanstar Quick Start

tiers:
  critical: "Loaded first; any failure blocks the page (e.g. BACKGROUND)"
  secondary: "Images plus each video's fallback poster, loaded after critical"

device_classes:
  desktop: "batch 3, timeout 15s"
  mobile: "batch 2, timeout 20s, 100ms between batches"
  auto: "Pick from --user-agent (mobile keywords) or desktop"

commands:
  preload: |
    kanstar preload --manifest assets.yaml --base-url https://kanstar.io

  preload_mobile: |
    kanstar preload --manifest assets.yaml --base-url https://kanstar.io --device mobile

  discover: |
    kanstar discover --url https://kanstar.io/ --base-url https://kanstar.io -o assets.yaml

  list_runs: |
    kanstar runs

  run_details: |
    kanstar run
    kanstar run <run-id>

  scroll_trace: |
    kanstar scroll-sim --trace scroll-trace.yaml

  multi_stage: |
    # Step 1: Build a manifest from the live page
    kanstar discover --url https://kanstar.io/ --base-url https://kanstar.io -o assets.yaml

    # Step 2: Warm the cache
    kanstar preload --manifest assets.yaml --base-url https://kanstar.io

    # Step 3: Inspect failures
    kanstar run | grep failed

retry_behavior:
  - "Each asset gets --max-retries attempts (default 3)"
  - "Linear back-off waits attempt x --backoff-base before the next try"
  - "Invalid URLs fail without retrying"
  - "Critical failures can be retried from the loading screen (--screen-retries)"

manifest_shape: |
  critical:
    BACKGROUND: /images/backgrounds/cosmic-background.png
  images:
    HEROES: /images/heroes.png
  videos:
    PLANET:
      webm: /videos/planet.webm
      mp4: /videos/planet.mp4
      fallback: /images/planet.png
      alt: Rotating planet

error_behavior:
  - "Malformed URLs and manifests: fail fast before fetching"
  - "Exit codes: 0=success, 1=secondary failures only, 2=critical or fatal failure"
`
